package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

// LogsResult is the outcome of one executed log query.
type LogsResult struct {
	QueryID string
	Lines   []string
}

// LogsFetcher runs one log query over a time range. The log backend is an
// external collaborator; the builder only sees flattened message lines.
type LogsFetcher interface {
	FetchLogs(ctx context.Context, logGroup string, start, end time.Time, query string) (*LogsResult, error)
}

// CloudWatchLogsFetcher executes Logs Insights queries.
type CloudWatchLogsFetcher struct {
	client *cloudwatchlogs.Client
}

// NewCloudWatchLogsFetcher builds a fetcher for the given region using the
// default AWS credential chain.
func NewCloudWatchLogsFetcher(ctx context.Context, region string) (*CloudWatchLogsFetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &CloudWatchLogsFetcher{client: cloudwatchlogs.NewFromConfig(cfg)}, nil
}

// FetchLogs starts a Logs Insights query and polls until it settles.
func (f *CloudWatchLogsFetcher) FetchLogs(ctx context.Context, logGroup string, start, end time.Time, query string) (*LogsResult, error) {
	started, err := f.client.StartQuery(ctx, &cloudwatchlogs.StartQueryInput{
		LogGroupName: aws.String(logGroup),
		StartTime:    aws.Int64(start.Unix()),
		EndTime:      aws.Int64(end.Unix()),
		QueryString:  aws.String(query),
		Limit:        aws.Int32(200),
	})
	if err != nil {
		return nil, fmt.Errorf("start logs query: %w", err)
	}

	for {
		out, err := f.client.GetQueryResults(ctx, &cloudwatchlogs.GetQueryResultsInput{
			QueryId: started.QueryId,
		})
		if err != nil {
			return nil, fmt.Errorf("get logs query results: %w", err)
		}
		switch out.Status {
		case "Complete", "Failed", "Cancelled", "Timeout":
			var lines []string
			for _, row := range out.Results {
				for _, field := range row {
					if aws.ToString(field.Field) == "@message" {
						if v := aws.ToString(field.Value); v != "" {
							lines = append(lines, v)
						}
					}
				}
			}
			return &LogsResult{QueryID: aws.ToString(started.QueryId), Lines: lines}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// FixtureLogsFetcher replays a canned Logs Insights result from disk, for
// local development and tests with no AWS access.
type FixtureLogsFetcher struct {
	path string
}

// NewFixtureLogsFetcher returns a fetcher reading the given fixture file.
func NewFixtureLogsFetcher(path string) *FixtureLogsFetcher {
	return &FixtureLogsFetcher{path: path}
}

type fixtureFile struct {
	QueryID string `json:"query_id"`
	Result  struct {
		Results []map[string]any `json:"results"`
	} `json:"result"`
}

// FetchLogs ignores the query and returns the fixture's message lines.
func (f *FixtureLogsFetcher) FetchLogs(_ context.Context, _ string, _, _ time.Time, _ string) (*LogsResult, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read logs fixture: %w", err)
	}
	var fx fixtureFile
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse logs fixture: %w", err)
	}

	queryID := fx.QueryID
	if queryID == "" {
		queryID = "fixture"
	}
	var lines []string
	for _, row := range fx.Result.Results {
		if msg, ok := row["@message"].(string); ok && msg != "" {
			lines = append(lines, msg)
		} else if msg, ok := row["message"].(string); ok && msg != "" {
			lines = append(lines, msg)
		}
	}
	return &LogsResult{QueryID: queryID, Lines: lines}, nil
}
