package ops

import (
	"bytes"
	"context"
	"fmt"

	"github.com/netraid/netraid/pkg/blockstore"
	"github.com/netraid/netraid/pkg/geometry"
	"golang.org/x/sync/errgroup"
)

// SubWriter sends one sub-operation's payload to the server that owns it
// and blocks until that sub-operation reaches success or failure. pkg/server
// implements this by sending the write and waiting for the one reply the
// remote node sends once the operation resolves; tests use a fake.
//
// WriteStripeUnit's span always carries every unit touched by the
// surrounding partial-stripe write (one or several, per §4.F), so an
// implementation can derive the full participants bitmap; unit names which
// one of those this particular call addresses.
type SubWriter interface {
	WriteStripeUnit(ctx context.Context, server uint32, inode uint64, layout geometry.Layout, span geometry.StripeSpan, unit geometry.StripeUnitRef, data []byte) error
	WriteFullStripe(ctx context.Context, parityServer uint32, inode uint64, layout geometry.Layout, span geometry.StripeSpan, data []byte) error
}

// SubReader fetches one stripe unit's current block from the server that
// owns it.
type SubReader interface {
	ReadStripeUnit(ctx context.Context, server uint32, inode, stripe uint64, unit uint32) (blockstore.Block, error)
}

// Write fans [offset, offset+len(data)) out into one sub-operation per
// stripe it touches, running them concurrently, and succeeds only if every
// sub-operation succeeds.
func Write(ctx context.Context, w SubWriter, layout geometry.Layout, inode, offset uint64, data []byte) error {
	spans := layout.StripesOf(offset, uint64(len(data)))

	g, gctx := errgroup.WithContext(ctx)
	consumed := uint64(0)
	for _, span := range spans {
		span := span
		length := spanByteLength(layout, span)
		chunk := data[consumed : consumed+length]
		consumed += length

		g.Go(func() error {
			if span.IsFull {
				parityServer := layout.ParityServer(span.StripeID)
				return w.WriteFullStripe(gctx, parityServer, inode, layout, span, chunk)
			}

			// A partial-stripe span may still touch several units (§4.F:
			// participants P1..P(G-1) sharing the stripe's coordinator), so
			// fan out one sub-operation per unit, each carrying its own
			// slice of chunk and the full span for participants bookkeeping.
			ug, ugctx := errgroup.WithContext(gctx)
			unitOffset := uint64(0)
			for _, u := range span.Units {
				u := u
				length := u.EndInUnit - u.StartInUnit
				unitData := chunk[unitOffset : unitOffset+length]
				unitOffset += length
				ug.Go(func() error {
					return w.WriteStripeUnit(ugctx, u.ServerID, inode, layout, span, u, unitData)
				})
			}
			return ug.Wait()
		})
	}
	return g.Wait()
}

func spanByteLength(layout geometry.Layout, span geometry.StripeSpan) uint64 {
	var n uint64
	for _, u := range span.Units {
		n += u.EndInUnit - u.StartInUnit
	}
	return n
}

// Read fans [offset, offset+length) out into one read per stripe unit it
// touches, waits for all responses, checks cross-unit version consistency
// and per-block checksums, and concatenates the data in stripe-unit order.
func Read(ctx context.Context, r SubReader, layout geometry.Layout, inode, offset, length uint64) ([]byte, error) {
	spans := layout.StripesOf(offset, length)

	type stripeResult struct {
		span   geometry.StripeSpan
		blocks []blockstore.Block
	}
	results := make([]stripeResult, len(spans))

	g, gctx := errgroup.WithContext(ctx)
	for i, span := range spans {
		i, span := i, span
		g.Go(func() error {
			blocks := make([]blockstore.Block, len(span.Units))
			eg, egctx := errgroup.WithContext(gctx)
			for j, u := range span.Units {
				j, u := j, u
				eg.Go(func() error {
					b, err := r.ReadStripeUnit(egctx, u.ServerID, inode, span.StripeID, u.Unit)
					if err != nil {
						return err
					}
					blocks[j] = b
					return nil
				})
			}
			if err := eg.Wait(); err != nil {
				return err
			}
			results[i] = stripeResult{span: span, blocks: blocks}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	for _, res := range results {
		if err := checkVersionConsistency(res.span, res.blocks); err != nil {
			return nil, Fail(KindVersionInconsistency, CCOID{}, err)
		}
		for i, b := range res.blocks {
			if !b.Verify() {
				return nil, Fail(KindChecksumMismatch, CCOID{}, fmt.Errorf("stripe %d unit %d", res.span.StripeID, res.span.Units[i].Unit))
			}
			u := res.span.Units[i]
			out.Write(b.Data[u.StartInUnit:u.EndInUnit])
		}
	}
	return out.Bytes(), nil
}

// checkVersionConsistency enforces §4.E's cross-version rule: for every
// pair of units i, j in the same stripe response set, unit j's reported
// version-vector slot for unit i must not exceed unit i's own reported
// version. Indexed by each block's actual stripe-unit id, not its position
// in the response slice, since a partial-stripe read's units need not start
// at 0 or be contiguous.
func checkVersionConsistency(span geometry.StripeSpan, blocks []blockstore.Block) error {
	for bi, ui := range span.Units {
		vi := blocks[bi].Metadata.VersionVector
		for bj, uj := range span.Units {
			if bi == bj {
				continue
			}
			vj := blocks[bj].Metadata.VersionVector
			i, j := int(ui.Unit), int(uj.Unit)
			if i >= len(vj) || i >= len(vi) {
				continue
			}
			if vj[i] > vi[i] {
				return fmt.Errorf("unit %d's view of unit %d's version (%d) exceeds unit %d's own reported version (%d)", j, i, vj[i], i, vi[i])
			}
		}
	}
	return nil
}
