package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/nao1215/finwatch/internal/model"
)

// ErrClassifierUnavailable wraps every failure of the classification
// service.
var ErrClassifierUnavailable = errors.New("classification service unavailable")

// Classifier is a client of the document classification service. It
// posts the document to {base}/classify and reads back a label and
// confidence.
type Classifier struct {
	cfg clientConfig
}

type classifyRequest struct {
	DocumentID  int64  `json:"document_id"`
	DocumentURL string `json:"document_url"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
}

type classifyResponse struct {
	DocType    string   `json:"doc_type"`
	Confidence *float64 `json:"confidence"`
}

// NewClassifier creates a classifier client for the service at baseURL.
func NewClassifier(baseURL string, opts ...Option) *Classifier {
	return &Classifier{cfg: newClientConfig(baseURL, opts)}
}

// Classify sends doc and its content to the service.
func (c *Classifier) Classify(ctx context.Context, doc *model.Document, content []byte) (*model.Classification, error) {
	req := classifyRequest{
		DocumentID:  doc.ID,
		DocumentURL: doc.URL,
		ContentType: doc.ContentType,
		Content:     base64.StdEncoding.EncodeToString(content),
	}
	var resp classifyResponse
	if _, err := c.cfg.do(ctx, http.MethodPost, c.cfg.baseURL+"/classify", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}
	if resp.Confidence == nil {
		return nil, fmt.Errorf("%w: response has no confidence", ErrClassifierUnavailable)
	}
	conf := *resp.Confidence
	if conf < 0 || conf > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrClassifierUnavailable, conf)
	}
	return &model.Classification{DocType: resp.DocType, Confidence: conf}, nil
}
