// Package responsewriter records the status code of a response and makes
// the recorder available through the request context, so that middleware
// wrapping a handler can report what the handler replied.
package responsewriter

import (
	"context"
	"errors"
	"net/http"
)

// Using an unexported type prevents key collisions from other packages.
type recorderKey string

// RecorderKey is the context key for the *Recorder of a request.
const RecorderKey recorderKey = "response-recorder"

// Recorder is an http.ResponseWriter that remembers the status it wrote.
type Recorder struct {
	http.ResponseWriter

	status int
}

func NewRecorder(w http.ResponseWriter) *Recorder {
	return &Recorder{ResponseWriter: w}
}

func (r *Recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *Recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Status returns the written status, or 200 when the handler never wrote one.
func (r *Recorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// ResponseWriterMiddleware wraps the response writer in a Recorder and
// injects the recorder into the request context.
func ResponseWriterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := NewRecorder(w)
		ctx := context.WithValue(r.Context(), RecorderKey, rec)
		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// RecorderFromContext retrieves the recorder injected by ResponseWriterMiddleware.
func RecorderFromContext(ctx context.Context) (*Recorder, error) {
	rec, ok := ctx.Value(RecorderKey).(*Recorder)
	if !ok {
		return nil, errors.New("response recorder not found in context")
	}
	return rec, nil
}
