package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyerfyer/doc-rag-assistant/internal/document"
	"github.com/fyerfyer/doc-rag-assistant/internal/llm"
	"github.com/fyerfyer/doc-rag-assistant/internal/services"
	"github.com/fyerfyer/doc-rag-assistant/internal/vectordb"
)

func TestFromServiceError(t *testing.T) {
	extractErr := &document.ExtractionError{Document: "a.pdf", Err: document.ErrNoText}

	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"app error", NewNotFoundError("missing"), http.StatusNotFound, ErrorTypeNotFound},
		{"empty query", &services.SearchError{Err: vectordb.ErrEmptyQuery}, http.StatusBadRequest, ErrorTypeValidation},
		{"empty query in answer", &services.AnswerError{Stage: llm.StageRetrieve, Err: &services.SearchError{Err: vectordb.ErrEmptyQuery}}, http.StatusBadRequest, ErrorTypeValidation},
		{"unknown session", services.ErrSessionNotPrepared, http.StatusNotFound, ErrorTypeNotFound},
		{"missing collection", fmt.Errorf("query: %w", vectordb.ErrCollectionNotFound), http.StatusNotFound, ErrorTypeNotFound},
		{"extraction", extractErr, http.StatusUnprocessableEntity, ErrorTypeExtraction},
		{"ingestion", &services.IngestionError{Stage: services.StageExtract, Document: "a.pdf", Err: extractErr}, http.StatusUnprocessableEntity, ErrorTypeExtraction},
		{"answer", &services.AnswerError{Stage: llm.StageSynthesize, Err: errors.New("timeout")}, http.StatusBadGateway, ErrorTypeUpstream},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromServiceError(tt.err)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.kind, appErr.Type)
		})
	}
}
