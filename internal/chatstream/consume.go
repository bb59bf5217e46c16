package chatstream

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const readChunkSize = 4 << 10

// Consume drives a Decoder over body until a terminal record, end of stream,
// or a read error, then closes body. Cancelling ctx closes body early and
// reports ctx.Err through OnError. The logger is taken from ctx.
func Consume(ctx context.Context, body io.ReadCloser, h Handler) {
	logger := *zerolog.Ctx(ctx)
	d := NewDecoder(h)
	d.logger = logger

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := body.Close(); err != nil {
				logger.Debug().Err(err).Msg("closing stream body")
			}
		})
	}
	defer release()
	stop := context.AfterFunc(ctx, release)
	defer stop()

	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 && !d.Feed(buf[:n]) {
			return
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			d.Finish()
			return
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			d.Fail(errors.Wrap(err, "read chat stream"))
			return
		}
	}
}
