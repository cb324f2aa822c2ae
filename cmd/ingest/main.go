// Package main 是全局知识库批量导入工具的入口点。
// 它扫描一个目录下的全部 PDF，解析并逐块摄取到 GKB 命名空间，
// 供运维在服务外离线灌库使用。
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"multi-rag-go/internal/config"
	"multi-rag-go/internal/service"
	"multi-rag-go/pkg/embedding"
	"multi-rag-go/pkg/extractor"
	"multi-rag-go/pkg/log"
	"multi-rag-go/pkg/storage"
	"multi-rag-go/pkg/vectorindex"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	configPath string
	sourceDir  string
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "批量导入 PDF 到全局知识库",
	Long: `扫描指定目录下的全部 PDF 文件，解析文本与图片并摄取到全局知识库（GKB）。
导入直接写内容存储与向量索引，不经过上传登记与消息队列。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "配置文件路径")
	rootCmd.Flags().StringVarP(&sourceDir, "dir", "d", "", "PDF 源目录 (必填)")
	_ = rootCmd.MarkFlagRequired("dir")
}

func runIngest() error {
	config.Init(configPath)
	cfg := config.Conf

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	contentStore := storage.New(cfg.MinIO)
	index := vectorindex.New(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	log.Infof("向量索引后端: %s", index.Name())

	extractorClient := extractor.NewClient(cfg.Extractor)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	ingestService := service.NewIngestService(embeddingClient, contentStore, index, cfg.Embedding.Model)
	// 离线导入不做上传登记，文档仓库留空
	documentService := service.NewDocumentService(extractorClient, ingestService, contentStore, nil, index)

	ctx := context.Background()
	ns := vectorindex.GKB()

	var total, failed int
	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("访问路径失败: %s, err=%v", path, err)
			return nil
		}
		if info.IsDir() || !strings.HasSuffix(strings.ToLower(info.Name()), ".pdf") {
			return nil
		}

		total++
		pdf, readErr := os.ReadFile(path)
		if readErr != nil {
			log.Errorf("读取文件失败: %s, err=%v", path, readErr)
			failed++
			return nil
		}

		docID := uuid.NewString()
		log.Infof("开始导入: %s (doc=%s)", info.Name(), docID)
		if ingestErr := documentService.IngestPDF(ctx, ns, pdf, docID); ingestErr != nil {
			// 单个文件失败不中断整个目录的导入
			log.Errorf("导入失败: %s, err=%v", info.Name(), ingestErr)
			failed++
			return nil
		}
		log.Infof("导入完成: %s", info.Name())
		return nil
	})
	if err != nil {
		return fmt.Errorf("遍历目录失败: %w", err)
	}

	log.Infof("批量导入结束: 共 %d 个文件, 失败 %d 个", total, failed)
	if failed > 0 {
		return fmt.Errorf("%d 个文件导入失败", failed)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
