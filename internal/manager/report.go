package manager

import "time"

// Status 单个数据源本轮的结果
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// SourceResult 是运行报告中每个数据源的一条记录
type SourceResult struct {
	SourceName        string  `json:"source_name"`
	SourceType        string  `json:"source_type"`
	Status            Status  `json:"status"`
	ArticlesCollected int     `json:"articles_collected"`
	Error             *string `json:"error"`
}

// Report 一次采集运行的汇总。
// SourcesProcessed 只统计成功的数据源，TotalArticles 只统计成功写入的文章。
type Report struct {
	RunID            string         `json:"run_id"`
	Timestamp        time.Time      `json:"timestamp"`
	SourcesProcessed int            `json:"sources_processed"`
	TotalArticles    int            `json:"total_articles"`
	Errors           []string       `json:"errors"`
	SourceResults    []SourceResult `json:"source_results"`
}

func newReport(runID string, at time.Time) Report {
	return Report{
		RunID:         runID,
		Timestamp:     at,
		Errors:        []string{},
		SourceResults: []SourceResult{},
	}
}

func (r *Report) add(res SourceResult) {
	r.SourceResults = append(r.SourceResults, res)
	if res.Status == StatusSuccess {
		r.SourcesProcessed++
		r.TotalArticles += res.ArticlesCollected
		return
	}
	if res.Error != nil {
		r.Errors = append(r.Errors, *res.Error)
	}
}

// HasErrors 任一数据源失败即为 true，命令行据此决定退出码
func (r Report) HasErrors() bool {
	return len(r.Errors) > 0
}

// Failed 返回失败的数据源名称
func (r Report) Failed() []string {
	var out []string
	for _, res := range r.SourceResults {
		if res.Status == StatusFailed {
			out = append(out, res.SourceName)
		}
	}
	return out
}
