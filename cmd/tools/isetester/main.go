package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ise-evaluator/internal/config"
	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
	"github.com/zhouzirui/ise-evaluator/internal/service/batch"
	"github.com/zhouzirui/ise-evaluator/internal/service/evaluation"
)

type fileResult struct {
	Source    string         `json:"source"`
	SessionID string         `json:"sessionId,omitempty"`
	SID       string         `json:"sid,omitempty"`
	Summary   map[string]any `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"errorKind,omitempty"`
	Attempts  int            `json:"attempts"`
	ElapsedMs int64          `json:"elapsedMs"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Warnf("无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("配置加载失败: %v", err)
	}
	config.SetupLogging(cfg.Log)

	kindFlag := flag.String("type", "en_sentence", "评测类型: en_word, en_sentence, en_chapter, cn_word, cn_sentence, cn_chapter")
	text := flag.String("text", "", "评测文本，默认按评测类型选择")
	audioPath := flag.String("audio", "", "音频文件路径，也可作为位置参数传入多个")
	outDir := flag.String("out", "results", "结果输出目录")
	concurrency := flag.Int("concurrency", cfg.Batch.Concurrency, "同时进行的评测会话数")
	retries := flag.Int("retries", cfg.Batch.Retries, "可重试错误的重试次数")
	delay := flag.Duration("delay", cfg.Batch.ItemDelay, "相邻两次请求的间隔")
	timeout := flag.Duration("timeout", 10*time.Minute, "整个批次的超时时间")

	flag.Parse()

	if !cfg.ISE.Enabled {
		logrus.Fatal("评测服务未启用，请先在环境变量中配置 ISE_APP_ID / ISE_API_KEY / ISE_API_SECRET")
	}

	kind, err := model.ParseKind(*kindFlag)
	if err != nil {
		logrus.Fatalf("评测类型无效: %v", err)
	}

	refText := *text
	if strings.TrimSpace(refText) == "" {
		refText = kind.DefaultText()
	}

	paths := flag.Args()
	if *audioPath != "" {
		paths = append([]string{*audioPath}, paths...)
	}
	if len(paths) == 0 {
		flag.Usage()
		logrus.Error("请通过 -audio 或位置参数指定至少一个音频文件")
		return
	}

	items := make([]batch.Item, 0, len(paths))
	for _, path := range paths {
		audio, err := os.ReadFile(path)
		if err != nil {
			logrus.Errorf("错误: 音频文件 %s 不存在或无法读取: %v", path, err)
			return
		}
		req, err := model.NewRequest("", audio, kind, refText)
		if err != nil {
			logrus.Errorf("音频文件 %s 无法评测: %v", path, err)
			return
		}
		items = append(items, batch.Item{Source: path, Request: req})
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logrus.Fatalf("创建输出目录失败: %v", err)
	}

	svc, err := evaluation.NewService(cfg.ISE.Model())
	if err != nil {
		logrus.Fatalf("初始化评测服务失败: %v", err)
	}
	defer svc.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logrus.Infof("开始评测: %d 个文件, 类型=%s, 文本=%q", len(items), kind, refText)

	runner := batch.NewRunner(svc, batch.Options{
		Concurrency: *concurrency,
		Retries:     *retries,
		ItemDelay:   *delay,
	}, nil)
	outcomes := runner.Run(ctx, items)

	if err := writeResults(*outDir, kind, outcomes); err != nil {
		logrus.Fatalf("写入结果失败: %v", err)
	}
}

func writeResults(outDir string, kind model.Kind, outcomes []batch.Outcome) error {
	all := make([]fileResult, 0, len(outcomes))
	failed := 0

	for _, o := range outcomes {
		fr := fileResult{
			Source:    filepath.Base(o.Source),
			Attempts:  o.Attempts,
			ElapsedMs: o.Elapsed.Milliseconds(),
		}

		if o.Err != nil {
			failed++
			fr.Error = o.Err.Error()
			fr.ErrorKind = string(evaluation.KindOf(o.Err))
			all = append(all, fr)
			continue
		}

		fr.SessionID = o.Result.SessionID
		fr.SID = o.Result.SID
		fr.Summary = o.Result.Summary()
		all = append(all, fr)

		base := strings.TrimSuffix(filepath.Base(o.Source), filepath.Ext(o.Source))
		xmlPath := filepath.Join(outDir, fmt.Sprintf("%s_%s_xml.txt", base, kind))
		if err := os.WriteFile(xmlPath, []byte(o.Result.RawMarkup), 0o644); err != nil {
			return err
		}
		logrus.Infof("%s: 总分=%.2f 拒识=%v 原始XML=%s", fr.Source, o.Result.TotalScore, o.Result.Rejected, xmlPath)
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	jsonPath := filepath.Join(outDir, "all_results.json")
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return err
	}

	logrus.Infof("评测完成: 成功 %d, 失败 %d, 结果已保存到 %s", len(outcomes)-failed, failed, jsonPath)
	return nil
}
