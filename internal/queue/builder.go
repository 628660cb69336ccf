package queue

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/dreamware/linkmill/internal/cluster"
	"github.com/dreamware/linkmill/internal/logging"
)

const (
	// PageOpen marks the first line of a unit.
	PageOpen = "<page>"
	// PageClose marks the last line of a unit.
	PageClose = "</page>"
)

// ErrInvalidEncoding reports a source line that is not valid UTF-8.
var ErrInvalidEncoding = errors.New("source is not valid UTF-8")

// lastID backs NextID. Ids are shared by every builder in the process.
var lastID atomic.Uint32

// NextID returns the next job id. The first id handed out is 1.
func NextID() uint32 {
	return lastID.Add(1)
}

// Builder scans a page dump line by line and publishes each complete page
// as a Job.
type Builder struct {
	queue     *Queue
	progress  *rate.Sometimes
	produced  atomic.Uint64
	discarded atomic.Uint64
}

// NewBuilder creates a builder publishing into q. Progress is logged at
// most once per progressEvery.
func NewBuilder(q *Queue, progressEvery time.Duration) *Builder {
	if progressEvery <= 0 {
		progressEvery = 10 * time.Second
	}
	return &Builder{
		queue:    q,
		progress: &rate.Sometimes{First: 1, Interval: progressEvery},
	}
}

// RunFile opens path and runs the builder over it.
func (b *Builder) RunFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		b.queue.Close()
		return fmt.Errorf("open source %s: %w", path, err)
	}
	defer f.Close()

	if err := b.Run(ctx, f); err != nil {
		return fmt.Errorf("read source %s: %w", path, err)
	}
	return nil
}

// Run consumes r to the end, publishing one job per page. The queue is
// closed when Run returns. A page still open at end of input is dropped,
// as is a page too large to fit in one Task frame. A line that is not
// valid UTF-8 stops the builder with ErrInvalidEncoding.
//
// Publishing blocks while the queue is full; if nothing drains it the
// builder waits until ctx is cancelled.
func (b *Builder) Run(ctx context.Context, r io.Reader) error {
	defer b.queue.Close()

	reader := bufio.NewReader(r)
	var (
		inPage bool
		buf    strings.Builder
		lineNo int
	)

	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return readErr
		}
		lineNo++
		if !utf8.ValidString(line) {
			return fmt.Errorf("line %d: %w", lineNo, ErrInvalidEncoding)
		}

		if line != "" {
			if !inPage && strings.Contains(line, PageOpen) {
				inPage = true
				buf.Reset()
				buf.WriteString(line)
				// A page may open and close on the same line.
				if idx := strings.Index(line, PageOpen); strings.Contains(line[idx+len(PageOpen):], PageClose) {
					if err := b.publish(ctx, &buf); err != nil {
						return err
					}
					inPage = false
				}
			} else if inPage {
				buf.WriteString(line)
				if strings.Contains(line, PageClose) {
					if err := b.publish(ctx, &buf); err != nil {
						return err
					}
					inPage = false
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	if inPage {
		b.discarded.Add(1)
		logging.Warn("discarding unterminated page at end of input", "bytes", buf.Len())
	}
	logging.Info("source consumed", "pages", b.produced.Load())
	return nil
}

func (b *Builder) publish(ctx context.Context, buf *strings.Builder) error {
	markup := buf.String()
	buf.Reset()
	if !cluster.TaskFits(markup) {
		b.discarded.Add(1)
		logging.Warn("discarding page too large for one frame", "bytes", len(markup), "limit", cluster.MaxFrameLength)
		return nil
	}

	job := Job{ID: NextID(), RawMarkup: markup}
	if err := b.queue.Push(ctx, job); err != nil {
		return err
	}
	n := b.produced.Add(1)
	b.progress.Do(func() {
		logging.Info("pages queued", "produced", n, "depth", b.queue.Len(), "last_id", job.ID)
	})
	return nil
}

// Produced returns the number of pages published so far.
func (b *Builder) Produced() uint64 {
	return b.produced.Load()
}

// Discarded returns the number of pages dropped, either unterminated or
// too large to dispatch.
func (b *Builder) Discarded() uint64 {
	return b.discarded.Load()
}
