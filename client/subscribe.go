package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aep/docbase/eventbus"
	"github.com/aep/docbase/queryengine"
)

// debounceWindow coalesces bursts of publications into one delivery.
const debounceWindow = 50 * time.Millisecond

// Disposer unsubscribes and releases a subscription's resources. The
// caller must invoke it to stop the subscription's goroutine.
type Disposer func()

// SubscribeCollection implements the live collection subscription
// protocol: an initial fetch, then incremental application of
// publications with dedup by version, falling back to an authoritative
// re-fetch whenever the query orders or limits results (deltas can't
// maintain those correctly on their own).
func (c *Client) SubscribeCollection(ctx context.Context, q queryengine.Query, onChange func([]Snapshot)) (Disposer, error) {
	if c.bus == nil {
		return nil, errNoBroker
	}
	channel := eventbus.CollectionChannel(c.cfg.WorkspaceID, q.CollectionPath)
	sub, err := c.bus.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)

	results, lastVersion, err := c.runQuery(subCtx, q)
	if err != nil {
		cancel()
		_ = sub.Close()
		return nil, err
	}

	go func() {
		defer sub.Close()

		state := make(map[string]json.RawMessage, len(results))
		order := make([]string, 0, len(results))
		for _, r := range results {
			state[r.Path] = r.Data
			order = append(order, r.Path)
		}

		var debounce *time.Timer
		deliver := func() {
			out := make([]Snapshot, 0, len(order))
			for _, p := range order {
				if d, ok := state[p]; ok {
					out = append(out, Snapshot{Path: p, Data: d})
				}
			}
			onChange(out)
		}
		scheduleDeliver := func() {
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, deliver)
		}

		onChange(results)

		needsRefetch := q.OrderBy != "" || q.Limit > 0

		for {
			select {
			case <-subCtx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ch, ok := <-sub.Changes():
				if !ok {
					return
				}
				if ch.Version <= lastVersion {
					continue
				}
				lastVersion = ch.Version

				if needsRefetch {
					refreshed, v, err := c.runQuery(subCtx, q)
					if err != nil {
						continue
					}
					lastVersion = v
					state = make(map[string]json.RawMessage, len(refreshed))
					order = order[:0]
					for _, r := range refreshed {
						state[r.Path] = r.Data
						order = append(order, r.Path)
					}
					scheduleDeliver()
					continue
				}

				switch ch.Type {
				case eventbus.Deleted:
					if _, ok := state[ch.Path]; ok {
						delete(state, ch.Path)
						order = removePath(order, ch.Path)
					}
				default:
					if !matchesQuery(ch.Path, ch.Data, q) {
						if _, ok := state[ch.Path]; ok {
							delete(state, ch.Path)
							order = removePath(order, ch.Path)
						}
						break
					}
					if _, existed := state[ch.Path]; !existed {
						order = append(order, ch.Path)
					}
					state[ch.Path] = ch.Data
				}
				scheduleDeliver()
			}
		}
	}()

	return func() { cancel() }, nil
}

// SubscribeDocument implements the live single-document subscription
// protocol: any non-delete publication triggers a re-fetch; a delete
// delivers nil.
func (c *Client) SubscribeDocument(ctx context.Context, path string, onChange func(*Snapshot)) (Disposer, error) {
	if c.bus == nil {
		return nil, errNoBroker
	}
	channel := eventbus.DocumentChannel(c.cfg.WorkspaceID, path)
	sub, err := c.bus.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer sub.Close()
		var lastVersion int64
		for {
			select {
			case <-subCtx.Done():
				return
			case ch, ok := <-sub.Changes():
				if !ok {
					return
				}
				if ch.Version <= lastVersion {
					continue
				}
				lastVersion = ch.Version
				if ch.Type == eventbus.Deleted {
					onChange(nil)
					continue
				}
				snap, err := c.Get(subCtx, path)
				if err != nil {
					continue
				}
				onChange(&snap)
			}
		}
	}()

	return func() { cancel() }, nil
}

func removePath(order []string, path string) []string {
	out := order[:0]
	for _, p := range order {
		if p != path {
			out = append(out, p)
		}
	}
	return out
}

// matchesQuery re-evaluates q's filters against a single publication's
// post-state, reusing queryengine's offline matcher so filter
// semantics never drift between the client's live and offline paths.
func matchesQuery(path string, data json.RawMessage, q queryengine.Query) bool {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	matched := queryengine.MatchLocal([]map[string]interface{}{doc}, queryengine.Query{Filters: q.Filters})
	return len(matched) == 1
}

var errNoBroker = &Error{Code: 0, Message: "client: no brokerUrl configured, live features disabled"}
