package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
)

// Request describes one backend call. Body is JSON-encoded; Form is sent as multipart.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Form   *Form
	Header http.Header
	// SkipAuth leaves the Authorization header off and bypasses the refresh protocol.
	SkipAuth bool
}

// Form is a multipart/form-data body.
type Form struct {
	Fields []Field
	Files  []File
}

type Field struct {
	Name  string
	Value string
}

type File struct {
	Field       string
	Filename    string
	ContentType string
	Content     []byte
}

// Add appends a text field.
func (f *Form) Add(name, value string) {
	f.Fields = append(f.Fields, Field{Name: name, Value: value})
}

// AddFile appends a file part.
func (f *Form) AddFile(field, filename, contentType string, content []byte) {
	f.Files = append(f.Files, File{Field: field, Filename: filename, ContentType: contentType, Content: content})
}

// encoded is a request body that can be replayed after a refresh.
type encoded struct {
	payload     []byte
	contentType string
}

func encodeBody(req Request) (encoded, error) {
	switch {
	case req.Form != nil && req.Body != nil:
		return encoded{}, pkgerrors.New(pkgerrors.CodeValidation, "request cannot carry both a json body and a form")
	case req.Form != nil:
		return encodeForm(req.Form)
	case req.Body != nil:
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return encoded{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode json body")
		}
		return encoded{payload: payload, contentType: "application/json"}, nil
	default:
		return encoded{}, nil
	}
}

func encodeForm(form *Form) (encoded, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, field := range form.Fields {
		if err := w.WriteField(field.Name, field.Value); err != nil {
			return encoded{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode form field")
		}
	}
	for _, file := range form.Files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Filename))
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return encoded{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode form file")
		}
		if _, err := part.Write(file.Content); err != nil {
			return encoded{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode form file")
		}
	}
	if err := w.Close(); err != nil {
		return encoded{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode form")
	}
	return encoded{payload: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}

// Response is a fully read 2xx backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the raw body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDecode, err, "decode response")
	}
	return nil
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// DecodeData unwraps the backend's {success, data, message} envelope into v.
// Bodies that are not enveloped objects are decoded as-is.
func (r *Response) DecodeData(v any) error {
	trimmed := bytes.TrimSpace(r.Body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return r.Decode(v)
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDecode, err, "decode response envelope")
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request was not successful"
		}
		return pkgerrors.New(pkgerrors.CodeUpstream, msg)
	}
	if env.Success == nil && len(env.Data) == 0 {
		return r.Decode(v)
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDecode, err, "decode response data")
	}
	return nil
}

// StatusError carries a non-2xx backend response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

func newStatusError(method, rawURL string, status int, body []byte) error {
	statusErr := &StatusError{
		Method:     method,
		URL:        rawURL,
		StatusCode: status,
		Body:       body,
		Message:    backendMessage(body),
	}
	msg := statusErr.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return pkgerrors.Wrap(pkgerrors.CodeForStatus(status), statusErr, msg)
}

func backendMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
