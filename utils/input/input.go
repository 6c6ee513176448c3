package input

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/yaml.v2"
)

// Source 观测数据源
// 功能：替代外部检测器，按时间向控制循环提供观测
type Source interface {
	// Poll 返回所有时刻不晚于now且尚未返回过的观测，按时间排序
	Poll(now float64) []entity.Observation
	// Exhausted 是否不会再产生新的观测
	Exhausted() bool
}

// record 观测记录的存储格式，方向以名称保存
type record struct {
	T         float64 `yaml:"t" json:"t" bson:"t"`
	Direction string  `yaml:"direction" json:"direction" bson:"direction"`
	Count     int32   `yaml:"count" json:"count" bson:"count"`
}

func (r record) observation() (entity.Observation, error) {
	d, err := entity.ParseDirection(r.Direction)
	if err != nil {
		return entity.Observation{}, err
	}
	return entity.Observation{Direction: d, VehicleCount: r.Count, T: r.T}, nil
}

func convert(records []record) ([]entity.Observation, error) {
	out := make([]entity.Observation, 0, len(records))
	for i, r := range records {
		obs, err := r.observation()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, obs)
	}
	return out, nil
}

// LoadFile 从文件读取观测序列
// 功能：支持YAML（.yaml/.yml）与JSON（.json）格式，内容为[{t, direction, count}]数组
// 返回：按时间排序的观测；方向名称非法时返回错误
// 说明：计数为负的记录原样保留，由控制循环在边界拒绝
func LoadFile(path string) ([]entity.Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &records)
	default:
		err = yaml.Unmarshal(data, &records)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	obs, err := convert(records)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	sortByTime(obs)
	return obs, nil
}

// LoadMongo 从MongoDB读取观测序列
// 参数：ctx-上下文，client-MongoDB客户端，path-数据库与集合
// 返回：按时间排序的观测
func LoadMongo(ctx context.Context, client *mongo.Client, path config.InputPath) ([]entity.Observation, error) {
	coll := mongoutil.GetMongoColl(client, path)
	cur, err := coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "t", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find observations in %s.%s: %w", path.GetDb(), path.GetColl(), err)
	}
	var records []record
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode observations in %s.%s: %w", path.GetDb(), path.GetColl(), err)
	}
	obs, err := convert(records)
	if err != nil {
		return nil, err
	}
	sortByTime(obs)
	return obs, nil
}

func sortByTime(obs []entity.Observation) {
	slices.SortStableFunc(obs, func(a, b entity.Observation) int {
		switch {
		case a.T < b.T:
			return -1
		case a.T > b.T:
			return 1
		}
		return 0
	})
}

// Open 根据配置打开观测数据源
// 功能：优先使用文件，其次MongoDB，再次合成检测器；都未配置时返回空数据源
// 参数：ctx-上下文，c-输入配置，start-控制循环起始时刻
func Open(ctx context.Context, c config.Input, start float64) (Source, error) {
	path := c.Observations
	switch {
	case path.File != "":
		obs, err := LoadFile(path.File)
		if err != nil {
			return nil, err
		}
		log.Infof("loaded %d observations from %s", len(obs), path.File)
		return NewReplay(obs), nil
	case c.URI != "" && !path.Empty():
		client := mongoutil.NewClient(c.URI)
		defer client.Disconnect(context.Background())
		obs, err := LoadMongo(ctx, client, path)
		if err != nil {
			return nil, err
		}
		log.Infof("loaded %d observations from %s.%s", len(obs), path.GetDb(), path.GetColl())
		return NewReplay(obs), nil
	case c.Synthetic != nil:
		log.Infof("using synthetic detector (seed=%d, interval=%v)", c.Synthetic.Seed, c.Synthetic.Interval)
		return NewSynthetic(*c.Synthetic, start)
	}
	log.Warn("no observation source configured, every approach stays LOW")
	return NewReplay(nil), nil
}
