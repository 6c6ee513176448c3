package output_test

import (
	"context"
	"errors"
	"testing"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/output"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type memorySink struct {
	batches [][]interface{}
	fail    bool
}

func (s *memorySink) InsertMany(ctx context.Context, docs []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	if s.fail {
		return nil, errors.New("unavailable")
	}
	s.batches = append(s.batches, docs)
	return &mongo.InsertManyResult{}, nil
}

func phase(seq uint64, d entity.Direction, light entity.Light, at, dur float64) entity.SignalPhase {
	return entity.SignalPhase{Seq: seq, Serving: d, Light: light, StartedAt: at, Duration: dur}
}

func TestRecorderBatches(t *testing.T) {
	sink := &memorySink{}
	r := output.NewRecorder(sink, 3, 2)
	idle := phase(0, entity.DirectionNone, entity.LightAllRed, 0, 0)
	g := phase(1, entity.DirectionEast, entity.LightGreen, 0, 15)
	y := phase(2, entity.DirectionEast, entity.LightYellow, 15, 3)

	r.OnPhaseChange(idle, g)
	assert.Empty(t, sink.batches)
	r.OnPhaseChange(g, y)
	require.Len(t, sink.batches, 1)
	assert.Equal(t, 2, r.Written())

	rec := sink.batches[0][0].(output.PhaseRecord)
	assert.Equal(t, r.RunID().String(), rec.RunID)
	assert.Equal(t, int32(3), rec.JunctionID)
	assert.Equal(t, "EAST", rec.Serving)
	assert.Equal(t, "GREEN", rec.Light)
	red, green := int32(mapv2.LightState_LIGHT_STATE_RED), int32(mapv2.LightState_LIGHT_STATE_GREEN)
	assert.Equal(t, []int32{red, red, green, red}, rec.States)

	r.OnPhaseChange(y, phase(3, entity.DirectionNone, entity.LightAllRed, 18, 0))
	require.NoError(t, r.Close(context.Background()))
	assert.Len(t, sink.batches, 2)
	assert.Equal(t, 3, r.Written())
}

func TestRecorderMarksViolation(t *testing.T) {
	sink := &memorySink{}
	r := output.NewRecorder(sink, 1, 10)
	r.OnStarvationViolation(errors.New("starved"))
	r.OnPhaseChange(entity.SignalPhase{}, phase(1, entity.DirectionNorth, entity.LightGreen, 0, 10))
	r.OnPhaseChange(entity.SignalPhase{}, phase(2, entity.DirectionNorth, entity.LightYellow, 10, 3))
	require.NoError(t, r.Flush(context.Background()))
	require.Len(t, sink.batches, 1)
	assert.True(t, sink.batches[0][0].(output.PhaseRecord).Violation)
	assert.False(t, sink.batches[0][1].(output.PhaseRecord).Violation)
}

func TestRecorderFlushError(t *testing.T) {
	sink := &memorySink{fail: true}
	r := output.NewRecorder(sink, 1, 0)
	// batch size below one flushes every record; failures are only logged
	r.OnPhaseChange(entity.SignalPhase{}, phase(1, entity.DirectionNorth, entity.LightGreen, 0, 10))
	assert.Zero(t, r.Written())
	assert.NoError(t, r.Flush(context.Background()))
}

func TestOpenDisabled(t *testing.T) {
	assert.Nil(t, output.Open(config.Output{}, 1))
	assert.Nil(t, output.Open(config.Output{URI: "mongodb://localhost"}, 1))
}
