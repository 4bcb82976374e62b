package completer

import (
	"context"
	"strings"

	"github.com/armchr/lspcomplete/pkg/lsp/base"

	"go.uber.org/zap"
)

type providerReply struct {
	provider Provider
	reply    *Reply
}

func (r *Reconciliator) merge(req Request, providers []Provider, outcomes []fetchOutcome) *Reply {
	var answered, withItems []providerReply
	for i, outcome := range outcomes {
		p := providers[i]
		if outcome.err != nil {
			r.logger.Warn("Completion provider failed",
				zap.String("provider", p.Identifier()), zap.Error(outcome.err))
			continue
		}
		if outcome.reply == nil {
			continue
		}
		pr := providerReply{provider: p, reply: outcome.reply}
		answered = append(answered, pr)
		if len(outcome.reply.Items) > 0 {
			withItems = append(withItems, pr)
		}
	}

	if len(withItems) == 0 {
		if len(answered) == 0 {
			return nil
		}
		first := answered[0].reply
		return &Reply{Start: first.Start, End: first.End, Items: []Item{}}
	}

	if len(withItems) == 1 {
		pr := withItems[0]
		items := make([]Item, len(pr.reply.Items))
		for i, item := range pr.reply.Items {
			items[i] = r.attach(pr.provider, item)
		}
		return &Reply{Start: pr.reply.Start, End: pr.reply.End, Items: items}
	}

	start := withItems[0].reply.Start
	for _, pr := range withItems[1:] {
		if pr.reply.Start > start {
			start = pr.reply.Start
		}
	}
	// Spans ending before the merged start do not bound it.
	end := -1
	for _, pr := range withItems {
		if pr.reply.End >= start && (end < 0 || pr.reply.End < end) {
			end = pr.reply.End
		}
	}
	if end < 0 {
		end = start
	}

	seen := make(map[string]struct{})
	merged := make([]Item, 0)
	for _, pr := range withItems {
		// Text between the reply's own start and the merged start is
		// already in the buffer, possibly across line breaks.
		present := ""
		if pr.reply.Start < start {
			present = base.RuneSlice(req.Text, pr.reply.Start, start)
		}

		for _, item := range pr.reply.Items {
			if present != "" {
				if text := item.EffectiveText(); strings.HasPrefix(text, present) {
					item.InsertText = text[len(present):]
					if item.InsertText == "" {
						continue
					}
				}
			}

			key := strings.TrimSpace(item.EffectiveText())
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, r.attach(pr.provider, item))
		}
	}

	return &Reply{Start: start, End: end, Items: merged}
}

// attach stamps the provider and wires the resolve callback.
func (r *Reconciliator) attach(p Provider, item Item) Item {
	item.Provider = p.Identifier()
	item.Resolve = nil
	if resolver, ok := p.(Resolver); ok {
		snapshot := item
		c := r.context
		item.Resolve = func(ctx context.Context) (*Item, error) {
			return resolver.Resolve(ctx, snapshot, c)
		}
	}
	return item
}
