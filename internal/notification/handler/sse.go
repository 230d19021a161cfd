package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// sseSender writes server-sent events to one response. Each frame is written
// under a deadline so a stalled client fails the send instead of blocking.
type sseSender struct {
	w       io.Writer
	rc      *http.ResponseController
	timeout time.Duration
}

func newSSESender(w http.ResponseWriter, timeout time.Duration) *sseSender {
	return &sseSender{
		w:       w,
		rc:      http.NewResponseController(w),
		timeout: timeout,
	}
}

func (s *sseSender) Send(event string, data []byte) error {
	if s.timeout > 0 {
		if err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing %s event: %w", event, err)
	}
	return nil
}
