package main

import (
	"context"
	"encoding/base64"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"git.fiblab.net/sim/syncer/v3"
	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-signal/task"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/input"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/output"
)

var (
	// 分布式模式syncer地址，如果设置为空则激活独立部署模式
	// 独立部署：不需要syncer，不向其他服务提供受保护的RPC访问
	syncerAddr = flag.String("syncer", "", "syncer address (empty means standalone mode), e.g. http://localhost:53001")
	// 任务名，主要用于服务注册
	job = flag.String("job", "job0", "the name of the whole simulation task")
	// 本程序监听的gRPC地址
	grpcAddr = flag.String("listen", ":51102", "gRPC listening address")
	// 配置文件路径
	configPath = flag.String("config", "", "config file path")
	// 配置文件Base64编码后的数据
	configData = flag.String("config-data", "", "config file base64 encoded data")
	// 控制器时间随墙钟推进，否则按仿真步长推进
	realtime = flag.Bool("realtime", false, "drive the signal by wall clock instead of simulation steps")

	// log
	logLevels = map[string]logrus.Level{
		"trace":    logrus.TraceLevel,
		"debug":    logrus.DebugLevel,
		"info":     logrus.InfoLevel,
		"warn":     logrus.WarnLevel,
		"error":    logrus.ErrorLevel,
		"critical": logrus.FatalLevel,
		"off":      logrus.PanicLevel,
	}
	logLevel = flag.String("log.level", "info", "日志级别（可选项：trace debug info warn error critical off）")

	log = logrus.WithField("module", "signal")
)

func main() {
	flag.Parse()
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	// log: 运行时才修改
	if level, ok := logLevels[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		log.Panicf("log.level must be one of %v", logLevels)
	}
	// 获取配置
	var file []byte
	var err error
	if *configPath != "" {
		file, err = os.ReadFile(*configPath)
		if err != nil {
			log.Panicf("config file load err: %v", err)
		}
	} else if *configData != "" {
		file, err = base64.StdEncoding.DecodeString(*configData)
		if err != nil {
			log.Panicf("config data load err: %v", err)
		}
	} else {
		log.Panic("config file or config data must be specified")
	}
	c, err := config.Load(file)
	if err != nil {
		log.Panicf("config file load err: %v", err)
	}
	log.Infof("%+v", c)

	start := float64(c.Control.Step.Start) * c.Control.Step.Interval
	source, err := input.Open(context.Background(), c.Input, start)
	if err != nil {
		log.Panicf("observation input load err: %v", err)
	}
	recorder := output.Open(c.Output, c.Control.JunctionID)

	sidecar := syncer.NewSidecar(task.SelfName, *grpcAddr, *syncerAddr)
	t, err := task.NewContext(*job, c, source, recorder, sidecar, true)
	if err != nil {
		log.Panicf("signal controller init err: %v", err)
	}

	// 第一次中断信号：完成当前相位后停止；第二次：立即全红
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("interrupted, stopping after the current phase (interrupt again to stop immediately)")
		t.Stop(true)
		select {
		case <-sigCh:
			cancel()
		case <-t.Done():
		}
	}()

	// SIGUSR1：提前结束当前绿灯
	skipCh := make(chan os.Signal, 1)
	signal.Notify(skipCh, syscall.SIGUSR1)
	go func() {
		for {
			select {
			case <-skipCh:
				if err := t.SkipToNext(); err != nil {
					log.Warnf("skip to next: %v", err)
				}
			case <-t.Done():
				return
			}
		}
	}()

	if *realtime {
		err = t.RunRealtime(ctx)
	} else {
		err = t.RunSimulated(ctx)
	}
	if err != nil {
		log.Panicf("control loop err: %v", err)
	}
	t.Close()
}
