// 相位历史输出：把每一次相位切换作为审计记录写入MongoDB
package output

import (
	"context"
	"sync"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/google/uuid"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Inserter 批量写入接口，*mongo.Collection满足该接口
type Inserter interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// PhaseRecord 相位切换记录
type PhaseRecord struct {
	RunID      string  `bson:"run_id"`
	JunctionID int32   `bson:"junction_id"`
	Seq        uint64  `bson:"seq"`
	Serving    string  `bson:"serving"`
	Light      string  `bson:"light"`
	StartedAt  float64 `bson:"started_at"`
	Duration   float64 `bson:"duration"`
	States     []int32 `bson:"states"` // 按固定方向顺序的灯色（mapv2.LightState）
	Previous   string  `bson:"previous"`
	Violation  bool    `bson:"violation"` // 该相位选出时发生了饥饿违规
}

func newPhaseRecord(runID string, junctionID int32, prev, next entity.SignalPhase) PhaseRecord {
	states := make([]int32, 0, entity.NumDirections)
	for _, s := range next.Indications() {
		states = append(states, int32(s))
	}
	return PhaseRecord{
		RunID:      runID,
		JunctionID: junctionID,
		Seq:        next.Seq,
		Serving:    next.Serving.String(),
		Light:      next.Light.String(),
		StartedAt:  next.StartedAt,
		Duration:   next.Duration,
		States:     states,
		Previous:   prev.String(),
	}
}

// Recorder 相位历史记录器
// 功能：作为信号状态机的观察者缓存每次相位切换，达到批量大小或关闭时写入数据库
// 说明：观察者回调由控制循环同步调用，写入失败只记录日志，不影响信号控制
type Recorder struct {
	trafficlight.BaseObserver

	runID      uuid.UUID
	junctionID int32
	batchSize  int
	sink       Inserter
	client     *mongo.Client // 由记录器创建的客户端，关闭时断开

	mtx         sync.Mutex
	buffer      []interface{}
	pendingViol bool
	written     int
}

// NewRecorder 创建写入指定集合的记录器
// 参数：sink-写入目标，junctionID-路口ID，batchSize-批量大小（<1按1处理）
func NewRecorder(sink Inserter, junctionID int32, batchSize int) *Recorder {
	return &Recorder{
		runID:      uuid.New(),
		junctionID: junctionID,
		batchSize:  max(batchSize, 1),
		sink:       sink,
	}
}

// Open 根据配置创建记录器
// 返回：未配置输出时返回nil
func Open(c config.Output, junctionID int32) *Recorder {
	if c.URI == "" || c.Phases.Empty() {
		return nil
	}
	client := mongoutil.NewClient(c.URI)
	r := NewRecorder(mongoutil.GetMongoColl(client, c.Phases), junctionID, c.BatchSize)
	r.client = client
	log.Infof("recording phases to %s.%s (run %s)", c.Phases.GetDb(), c.Phases.GetColl(), r.runID)
	return r
}

// RunID 本次运行的ID
func (r *Recorder) RunID() uuid.UUID {
	return r.runID
}

// Written 已成功写入的记录数
func (r *Recorder) Written() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.written
}

func (r *Recorder) OnStarvationViolation(err error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.pendingViol = true
}

func (r *Recorder) OnPhaseChange(prev, next entity.SignalPhase) {
	rec := newPhaseRecord(r.runID.String(), r.junctionID, prev, next)
	r.mtx.Lock()
	if next.Light == entity.LightGreen {
		rec.Violation = r.pendingViol
		r.pendingViol = false
	}
	r.buffer = append(r.buffer, rec)
	full := len(r.buffer) >= r.batchSize
	r.mtx.Unlock()
	if full {
		if err := r.Flush(context.Background()); err != nil {
			log.Errorf("flush phase records: %v", err)
		}
	}
}

// Flush 写入缓存的记录
func (r *Recorder) Flush(ctx context.Context) error {
	r.mtx.Lock()
	docs := r.buffer
	r.buffer = nil
	r.mtx.Unlock()
	if len(docs) == 0 {
		return nil
	}
	if _, err := r.sink.InsertMany(ctx, docs); err != nil {
		return err
	}
	r.mtx.Lock()
	r.written += len(docs)
	r.mtx.Unlock()
	return nil
}

// Close 写入剩余记录并断开由记录器创建的连接
func (r *Recorder) Close(ctx context.Context) error {
	err := r.Flush(ctx)
	if r.client != nil {
		if derr := r.client.Disconnect(ctx); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}
