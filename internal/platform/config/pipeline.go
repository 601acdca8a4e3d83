package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineFile はパイプライン設定ファイルの構造。指定された項目だけを上書きする
type PipelineFile struct {
	Context struct {
		MaxTokens        *int `yaml:"max_tokens"`
		MaxTickets       *int `yaml:"max_tickets"`
		DescriptionLimit *int `yaml:"description_limit"`
	} `yaml:"context"`
	Generation struct {
		Timeout      *time.Duration `yaml:"timeout"`
		RetryBackoff *time.Duration `yaml:"retry_backoff"`
		Temperature  *float64       `yaml:"temperature"`
		MaxTokens    *int           `yaml:"max_tokens"`
	} `yaml:"generation"`
	Indexing struct {
		BatchSize *int `yaml:"batch_size"`
	} `yaml:"indexing"`
}

// ApplyFile は YAML ファイルの内容で設定を上書きします
func (p *PipelineConfig) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pipeline config: %w", err)
	}

	var file PipelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse pipeline config: %w", err)
	}

	p.Apply(file)
	return nil
}

// Apply は設定ファイルで指定された項目を上書きします
func (p *PipelineConfig) Apply(file PipelineFile) {
	setIfPresent(&p.ContextMaxTokens, file.Context.MaxTokens)
	setIfPresent(&p.ContextMaxTickets, file.Context.MaxTickets)
	setIfPresent(&p.DescriptionLimit, file.Context.DescriptionLimit)
	setIfPresent(&p.GenerationTimeout, file.Generation.Timeout)
	setIfPresent(&p.GenerationRetryBackoff, file.Generation.RetryBackoff)
	setIfPresent(&p.Temperature, file.Generation.Temperature)
	setIfPresent(&p.MaxTokens, file.Generation.MaxTokens)
	setIfPresent(&p.IndexBatchSize, file.Indexing.BatchSize)
}

func setIfPresent[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
