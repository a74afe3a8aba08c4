package generation

import (
	"context"
	"errors"
	"io"
)

// ChatStream performs a streaming chat completion. Deltas arrive on the
// content channel in generation order; at most one error is sent on the
// error channel. Both channels are closed when the stream ends.
func (c *Client) ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errChan)

		stream, err := c.client.CreateChatCompletionStream(ctx, c.completionRequest(messages, true))
		if err != nil {
			errChan <- wrapBackendError(err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errChan <- wrapBackendError(err)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case contentChan <- delta:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return contentChan, errChan
}
