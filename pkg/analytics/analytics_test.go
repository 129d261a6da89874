package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/pipeline"
	bberrors "github.com/otherjamesbrown/boxbridge/pkg/errors"
)

var invoiceSource = Source{
	UserID:     "99",
	UserLogin:  "a@b.com",
	FileID:     "42",
	FileName:   "invoice.pdf",
	FolderID:   "7",
	FolderName: "Invoices",
}

func TestBuild_WithoutMetadata(t *testing.T) {
	rec := Build(invoiceSource, DefaultEnterpriseID, 0, nil)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Boxuserid": "99",
		"itemID": "42",
		"BoxFilename": "invoice.pdf",
		"BoxFileID": "42",
		"BoxFileID_Text": "42",
		"Boxenterpriseid": 1164695563,
		"BoxCountOfPreviews": 0
	}`, string(data))
}

func TestBuild_EmptySummaryHasNoMetadata(t *testing.T) {
	rec := Build(invoiceSource, 5, 3, &pipeline.Summary{FileID: "42"})

	assert.Equal(t, 3, rec.PreviewCount)
	assert.Equal(t, int64(5), rec.EnterpriseID)
	assert.Empty(t, rec.Template)
	assert.Empty(t, rec.BoxFolderID)
	assert.Empty(t, rec.BoxUser)
}

func TestBuild_WithMetadata(t *testing.T) {
	summary := &pipeline.Summary{
		FileID:      "42",
		TemplateKey: "invoiceAi",
		Attributes:  "invoiceNumber: INV-1, total: 500",
	}

	rec := Build(invoiceSource, DefaultEnterpriseID, 2, summary)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Boxuserid": "99",
		"itemID": "42",
		"BoxFilename": "invoice.pdf",
		"BoxFileID": "42",
		"BoxFileID_Text": "42",
		"Boxenterpriseid": 1164695563,
		"BoxCountOfPreviews": 2,
		"BoxMetadatatemplate": "invoiceAi",
		"BoxMetadataAttribute": "invoiceNumber: INV-1, total: 500",
		"BoxFolderID": "7",
		"BoxFolderID_Text": "7",
		"BoxFoldername": "Invoices",
		"Boxuser": "a@b.com"
	}`, string(data))
}

func newSink(t *testing.T, status int, body *[]byte, calls *atomic.Int32) *SalesforceSink {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sf-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if body != nil {
			*body = data
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	t.Cleanup(srv.Close)

	sink, err := NewSalesforceSink(srv.URL+"/api/v1/ingest", "sf-token")
	require.NoError(t, err)
	return sink
}

func TestSalesforceSink_Accepted(t *testing.T) {
	var body []byte
	var calls atomic.Int32
	sink := newSink(t, http.StatusAccepted, &body, &calls)

	err := sink.Send(context.Background(), Build(invoiceSource, DefaultEnterpriseID, 0, nil))
	require.NoError(t, err)

	var decoded struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded.Data, 1)
	assert.Equal(t, "42", decoded.Data[0]["BoxFileID"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestSalesforceSink_OKIsNotAccepted(t *testing.T) {
	var calls atomic.Int32
	sink := newSink(t, http.StatusOK, nil, &calls)

	err := sink.Send(context.Background(), Record{BoxFileID: "42"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAccepted))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusOK, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "accepted")
}

func TestSalesforceSink_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	sink := newSink(t, http.StatusServiceUnavailable, nil, &calls)

	err := sink.Send(context.Background(), Record{BoxFileID: "42"})
	require.ErrorIs(t, err, ErrNotAccepted)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSalesforceSink_TransportError(t *testing.T) {
	sink, err := NewSalesforceSink("http://127.0.0.1:1/ingest", "sf-token")
	require.NoError(t, err)

	err = sink.Send(context.Background(), Record{BoxFileID: "42"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotAccepted))
}

func TestNewSalesforceSink_Configuration(t *testing.T) {
	_, err := NewSalesforceSink("", "")
	require.Error(t, err)
	assert.True(t, bberrors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "SALESFORCE_DATA_CLOUD_ENDPOINT")
	assert.Contains(t, err.Error(), "SALESFORCE_ACCESS_TOKEN")
}

func TestDiscardSink(t *testing.T) {
	var sink Sink = DiscardSink{}
	assert.NoError(t, sink.Send(context.Background(), Record{}))
}
