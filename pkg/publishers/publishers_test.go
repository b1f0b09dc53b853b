package publishers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
	"github.com/Adda-Baaj/khobor-scrapers/internal/logger"
)

func sampleRecord() domain.ArticleRecord {
	return domain.ArticleRecord{
		URL:        "https://kathmandupost.com/national/2024/01/05/budget",
		SourceName: "The Kathmandu Post",
		Title:      "Budget",
		FullText:   "Body.",
		ScrapedAt:  time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC),
		SpiderName: "kathmandupost",
		Tags:       []string{},
		Meta:       domain.RecordMeta{GUID: "G1", NeedsReview: true},
	}
}

func TestEventPayloadIsExactRecordSchema(t *testing.T) {
	payload, err := NewEvent("kathmandupost", sampleRecord()).Payload()
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		"url", "source_name", "title", "full_text", "author",
		"publication_date", "scraped_at", "spider_name", "tags",
	}, keys)
	assert.Nil(t, fields["author"])
	assert.Nil(t, fields["publication_date"])
	assert.Equal(t, "2024-01-05T10:00:00Z", fields["scraped_at"])
	assert.Equal(t, []any{}, fields["tags"])

	assert.Equal(t, map[string]string{"provider_id": "kathmandupost", "date_review": "true"},
		NewEvent("kathmandupost", sampleRecord()).Attributes())
}

func TestParseRegistry(t *testing.T) {
	t.Setenv("SINK_URL", "https://sink.example.com/articles")

	reg, err := ParseRegistry([]byte(os.ExpandEnv(`
publishers:
  - id: out
    type: FILE
    file: {path: " out/articles.jsonl "}
  - id: hook
    type: http
    enabled: false
    http: {url: "${SINK_URL}", headers: {X-Key: " k ", Empty: " "}}
  - id: sqs
    type: queue
    queue:
      provider: AWS-SQS
      aws: {uri: https://sqs.example.com/q, region: ap-south-1}
`)), ".yaml")
	require.NoError(t, err)

	out, ok := reg.ByID("out")
	require.True(t, ok)
	assert.Equal(t, TypeFile, out.Type)
	assert.Equal(t, "out/articles.jsonl", out.File.Path)

	hook, ok := reg.ByID("hook")
	require.True(t, ok)
	assert.Equal(t, "https://sink.example.com/articles", hook.HTTP.URL)
	assert.Equal(t, "POST", hook.HTTP.Method)
	assert.Equal(t, map[string]string{"X-Key": "k"}, hook.HTTP.Headers)
	assert.Equal(t, httpDefaultTimeoutSeconds, hook.HTTP.TimeoutSeconds)

	sqsCfg, _ := reg.ByID("sqs")
	assert.Equal(t, QueueProviderAWSSQS, sqsCfg.Queue.Provider)

	enabled := reg.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "out", enabled[0].ID)
	assert.Equal(t, "sqs", enabled[1].ID)
}

func TestParseRegistryRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"missing id":        `{"publishers":[{"type":"file","file":{"path":"-"}}]}`,
		"unknown type":      `{"publishers":[{"id":"a","type":"kafka"}]}`,
		"file without path": `{"publishers":[{"id":"a","type":"file","file":{}}]}`,
		"http without url":  `{"publishers":[{"id":"a","type":"http","http":{}}]}`,
		"azure queue":       `{"publishers":[{"id":"a","type":"queue","queue":{"provider":"azure"}}]}`,
		"half credentials":  `{"publishers":[{"id":"a","type":"queue","queue":{"provider":"aws-sns","sns":{"topic_arn":"arn","region":"r","access_key_id":"k"}}}]}`,
		"duplicate id":      `{"publishers":[{"id":"a","type":"file","file":{"path":"-"}},{"id":"a","type":"file","file":{"path":"-"}}]}`,
		"empty":             `{"publishers":[]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(doc), ".json")
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistryDefaultsToStdout(t *testing.T) {
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	all := reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, TypeFile, all[0].Type)
	assert.Equal(t, StdoutPath, all[0].File.Path)
}

func TestFilePublisherAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "articles.jsonl")
	pubs, err := BuildAll(context.Background(), nil, []PublisherConfig{
		{ID: "out", Type: TypeFile, File: &FilePublisherConfig{Path: path}},
	}, logger.NopLogger{})
	require.NoError(t, err)
	d := NewDispatcher(pubs, nil)

	first := sampleRecord()
	second := sampleRecord()
	second.URL = "https://kathmandupost.com/national/2024/01/06/other"
	published := time.Date(2024, 1, 6, 8, 0, 0, 0, time.UTC)
	second.PublicationDate = &published
	second.Meta.NeedsReview = false

	require.NoError(t, d.Emit(context.Background(), "kathmandupost", first))
	require.NoError(t, d.Emit(context.Background(), "kathmandupost", second))
	require.NoError(t, d.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var rec domain.ArticleRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, second.URL, rec.URL)

	var flagged, dated map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &flagged))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &dated))
	assert.Equal(t, true, flagged["date_review"])
	assert.Nil(t, flagged["publication_date"])
	assert.Equal(t, first.URL, flagged["url"])
	assert.NotContains(t, dated, "date_review")
	assert.Equal(t, "2024-01-06T08:00:00Z", dated["publication_date"])
	assert.NotContains(t, flagged, "Meta")
}

func TestHTTPPublisher(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		body    []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	reg, err := ParseRegistry([]byte(`{"publishers":[
		{"id":"ok","type":"http","http":{"url":"`+srv.URL+`/ok","headers":{"Authorization":"Bearer t"}}},
		{"id":"bad","type":"http","http":{"url":"`+srv.URL+`/fail","method":"put"}}
	]}`), ".json")
	require.NoError(t, err)

	pubs, err := BuildAll(context.Background(), DefaultRegistry(), reg.Enabled(), nil)
	require.NoError(t, err)
	require.Len(t, pubs, 2)

	require.NoError(t, pubs[0].Publish(context.Background(), NewEvent("kathmandupost", sampleRecord())))
	mu.Lock()
	assert.Equal(t, "Bearer t", headers.Get("Authorization"))
	assert.Equal(t, "kathmandupost", headers.Get("X-Provider-ID"))
	assert.Equal(t, "true", headers.Get("X-Date-Review"))
	assert.Contains(t, headers.Get("Content-Type"), "application/json")
	assert.Contains(t, string(body), `"spider_name":"kathmandupost"`)
	mu.Unlock()

	err = pubs[1].Publish(context.Background(), NewEvent("kathmandupost", sampleRecord()))
	assert.ErrorContains(t, err, "status 502")
}

type fakeSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

type fakeSNS struct {
	input *sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	return &sns.PublishOutput{MessageId: aws.String("m-2")}, nil
}

func TestQueuePublisherCarriesAttributes(t *testing.T) {
	rec := sampleRecord()
	evt := NewEvent("kathmandupost", rec)

	sq := &fakeSQS{}
	pub := &queuePublisher{id: "q", typ: TypeQueue, provider: QueueProviderAWSSQS,
		sender: &awsSQSSender{queueURL: "https://sqs.example.com/q", client: sq}, log: logger.NopLogger{}}
	require.NoError(t, pub.Publish(context.Background(), evt))
	assert.Equal(t, "https://sqs.example.com/q", aws.ToString(sq.input.QueueUrl))
	assert.Equal(t, "kathmandupost", aws.ToString(sq.input.MessageAttributes["provider_id"].StringValue))
	assert.Equal(t, "true", aws.ToString(sq.input.MessageAttributes["date_review"].StringValue))
	assert.Contains(t, aws.ToString(sq.input.MessageBody), rec.URL)
	assert.Nil(t, sq.input.MessageDeduplicationId)

	sq.err = errors.New("throttled")
	assert.ErrorContains(t, pub.Publish(context.Background(), evt), "throttled")
}

func TestFIFOQueuesDeduplicateOnRecordKey(t *testing.T) {
	rec := sampleRecord()
	msg, err := newQueueMessage(NewEvent("kathmandupost", rec))
	require.NoError(t, err)

	again, err := newQueueMessage(NewEvent("kathmandupost", rec))
	require.NoError(t, err)
	assert.Equal(t, msg.Key, again.Key)

	other := rec
	other.URL = "https://kathmandupost.com/national/2024/01/05/other"
	otherMsg, err := newQueueMessage(NewEvent("kathmandupost", other))
	require.NoError(t, err)
	assert.NotEqual(t, msg.Key, otherMsg.Key)

	sq := &fakeSQS{}
	sqsSender := &awsSQSSender{queueURL: "https://sqs.example.com/articles.fifo", fifo: true, client: sq}
	id, err := sqsSender.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
	assert.Equal(t, msg.Key, aws.ToString(sq.input.MessageDeduplicationId))
	assert.Equal(t, "kathmandupost", aws.ToString(sq.input.MessageGroupId))

	sn := &fakeSNS{}
	snsSender := &awsSNSSender{topicARN: "arn:aws:sns:ap-south-1:1:articles.fifo", fifo: true, client: sn}
	id, err = snsSender.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "m-2", id)
	assert.Equal(t, "arn:aws:sns:ap-south-1:1:articles.fifo", aws.ToString(sn.input.TopicArn))
	assert.Equal(t, "kathmandupost", aws.ToString(sn.input.MessageAttributes["provider_id"].StringValue))
	assert.Equal(t, msg.Key, aws.ToString(sn.input.MessageDeduplicationId))
}

type stubPublisher struct {
	id     string
	err    error
	got    []Event
	closed bool
}

func (s *stubPublisher) ID() string   { return s.id }
func (s *stubPublisher) Type() string { return "stub" }
func (s *stubPublisher) Publish(_ context.Context, evt Event) error {
	s.got = append(s.got, evt)
	return s.err
}
func (s *stubPublisher) Close() error {
	s.closed = true
	return nil
}

func TestDispatcherAttemptsEveryPublisher(t *testing.T) {
	failing := &stubPublisher{id: "a", err: errors.New("down")}
	healthy := &stubPublisher{id: "b"}
	d := NewDispatcher([]Publisher{failing, healthy}, nil)

	err := d.Emit(context.Background(), "himalayan", sampleRecord())
	assert.ErrorContains(t, err, "a: down")
	assert.Len(t, healthy.got, 1)
	assert.Equal(t, "himalayan", healthy.got[0].ProviderID)

	require.NoError(t, d.Close())
	assert.True(t, failing.closed)
	assert.True(t, healthy.closed)

	assert.Error(t, NewDispatcher(nil, nil).Emit(context.Background(), "x", sampleRecord()))
}

func TestOpenBuildsDispatcher(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "records.jsonl")
	cfgPath := filepath.Join(dir, "publishers.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
publishers:
  - id: local
    type: file
    file:
      path: `+out+`
  - id: muted
    type: file
    enabled: false
    file:
      path: `+filepath.Join(dir, "muted.jsonl")+`
`), 0o600))

	d, err := Open(context.Background(), cfgPath, nil)
	require.NoError(t, err)
	require.NoError(t, d.Emit(context.Background(), "himalayan", sampleRecord()))
	require.NoError(t, d.Close())

	_, err = os.Stat(out)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "muted.jsonl"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(cfgPath, []byte("publishers:\n  - id: x\n    type: carrier-pigeon\n"), 0o600))
	_, err = Open(context.Background(), cfgPath, nil)
	assert.Error(t, err)
}
