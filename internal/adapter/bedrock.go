package adapter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/tidwall/sjson"

	"aiproxy/internal/models"
)

// bedrockSigner signs outgoing requests with SigV4 for the bedrock service.
type bedrockSigner struct {
	creds  aws.CredentialsProvider
	signer *v4.Signer
	region string
}

func newBedrockSigner(accessKeyID, secretAccessKey, region string) *bedrockSigner {
	return &bedrockSigner{
		creds:  credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		signer: v4.NewSigner(),
		region: region,
	}
}

func (b *bedrockSigner) sign(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := b.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve aws credentials: %w", err)
	}
	sum := sha256.Sum256(body)
	if err := b.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), "bedrock", b.region, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to sign bedrock request: %w", err)
	}
	return nil
}

// BedrockAdapter proxies Anthropic messages through the AWS Bedrock runtime.
// The wire format matches the Anthropic API; the transport differs in URL
// shape, SigV4 auth and the binary event stream on the response side.
type BedrockAdapter struct {
	// BaseURL is the Bedrock runtime endpoint.
	BaseURL string

	signer *bedrockSigner
}

// NewBedrockAdapter targets the Bedrock runtime in region with static
// credentials.
func NewBedrockAdapter(accessKeyID, secretAccessKey, region string) *BedrockAdapter {
	return &BedrockAdapter{
		BaseURL: fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region),
		signer:  newBedrockSigner(accessKeyID, secretAccessKey, region),
	}
}

func (a *BedrockAdapter) Name() string { return "bedrock" }

var bedrockPathPattern = regexp.MustCompile(`model/(.+)/(invoke|invoke-with-response-stream)$`)

func (a *BedrockAdapter) ParseRequest(s *Session) error {
	m := bedrockPathPattern.FindStringSubmatch(s.Path)
	if m == nil {
		return fmt.Errorf("no model in request path %q", s.Path)
	}
	s.Model = m[1]
	s.Stream = m[2] == "invoke-with-response-stream"
	return nil
}

func (a *BedrockAdapter) invokeURL(s *Session) string {
	method := "invoke"
	if s.Stream {
		method = "invoke-with-response-stream"
	}
	return fmt.Sprintf("%s/model/%s/%s", a.BaseURL, s.Model, method)
}

func (a *BedrockAdapter) UpstreamRequest(ctx context.Context, s *Session) (*http.Request, error) {
	body, err := json.Marshal(s.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.invokeURL(s), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Amzn-Bedrock-Accept", "application/json")
	if err := a.signer.sign(ctx, req, body); err != nil {
		return nil, err
	}
	return req, nil
}

const bedrockSynthBody = `{"content":[{"type":"text","text":""}],"usage":{"input_tokens":0,"output_tokens":0}}`

func (a *BedrockAdapter) SynthesizeResponse(content string) []byte {
	body, _ := sjson.SetBytes([]byte(bedrockSynthBody), "content.0.text", content)
	return body
}

// SynthesizeStream is unsupported: the binary event stream framing cannot be
// fabricated for a filter reply. The router turns this into a 400.
func (a *BedrockAdapter) SynthesizeStream(content string) ([][]byte, error) {
	return nil, ErrStreamSynthesisUnsupported
}

func (a *BedrockAdapter) RequestItem(s *Session) models.LogItem {
	return newAnthropicRequestItem(s, s.Model)
}

func (a *BedrockAdapter) ResponseItem(s *Session) models.LogItem {
	return newAnthropicResponseItem(s, "")
}

func (a *BedrockAdapter) StreamItem(s *Session) models.LogItem {
	return newBedrockStreamItem(s)
}

func (a *BedrockAdapter) ErrorItem(s *Session, err error) models.LogItem {
	return NewErrorItem(s, err)
}

// BedrockLegacyAdapter proxies the pre-messages Claude text completion API
// on Bedrock (anthropic.claude-v2). Requests carry a single prompt string
// and responses a completion string; token counts arrive in response
// headers rather than the body.
type BedrockLegacyAdapter struct {
	BaseURL string

	signer *bedrockSigner
}

// BedrockLegacyModel is the only model the legacy completion route serves.
const BedrockLegacyModel = "anthropic.claude-v2"

// NewBedrockLegacyAdapter targets the claude-v2 completion API in region.
func NewBedrockLegacyAdapter(accessKeyID, secretAccessKey, region string) *BedrockLegacyAdapter {
	return &BedrockLegacyAdapter{
		BaseURL: fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region),
		signer:  newBedrockSigner(accessKeyID, secretAccessKey, region),
	}
}

func (a *BedrockLegacyAdapter) Name() string { return "bedrock-legacy" }

func (a *BedrockLegacyAdapter) ParseRequest(s *Session) error {
	m := bedrockPathPattern.FindStringSubmatch(s.Path)
	if m == nil {
		return fmt.Errorf("no invoke method in request path %q", s.Path)
	}
	s.Model = BedrockLegacyModel
	s.Stream = m[2] == "invoke-with-response-stream"
	return nil
}

func (a *BedrockLegacyAdapter) UpstreamRequest(ctx context.Context, s *Session) (*http.Request, error) {
	body, err := json.Marshal(s.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}

	method := "invoke"
	if s.Stream {
		method = "invoke-with-response-stream"
	}
	url := fmt.Sprintf("%s/model/%s/%s", a.BaseURL, BedrockLegacyModel, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Amzn-Bedrock-Accept", "application/json")
	if err := a.signer.sign(ctx, req, body); err != nil {
		return nil, err
	}
	return req, nil
}

func (a *BedrockLegacyAdapter) SynthesizeResponse(content string) []byte {
	body, _ := sjson.SetBytes([]byte(`{"completion":""}`), "completion", content)
	return body
}

func (a *BedrockLegacyAdapter) SynthesizeStream(content string) ([][]byte, error) {
	return nil, ErrStreamSynthesisUnsupported
}

func (a *BedrockLegacyAdapter) RequestItem(s *Session) models.LogItem {
	return newBedrockLegacyRequestItem(s)
}

func (a *BedrockLegacyAdapter) ResponseItem(s *Session) models.LogItem {
	return newBedrockLegacyResponseItem(s)
}

func (a *BedrockLegacyAdapter) StreamItem(s *Session) models.LogItem {
	return newBedrockLegacyStreamItem(s)
}

func (a *BedrockLegacyAdapter) ErrorItem(s *Session, err error) models.LogItem {
	return NewErrorItem(s, err)
}
