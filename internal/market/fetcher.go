package market

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"
)

// fetchTimeout bounds a single token's order-book request.
const fetchTimeout = 10 * time.Second

// DepthLevels is how many book levels are summed into BidDepth/AskDepth.
const DepthLevels = 5

// Fetcher pulls live order-book snapshots for a market's two tokens.
type Fetcher struct {
	clobClient clob.Client
}

// NewFetcher creates a Fetcher over the given CLOB client.
func NewFetcher(clobClient clob.Client) *Fetcher {
	return &Fetcher{clobClient: clobClient}
}

// FetchFullMarketData concurrently fetches both tokens' order books and
// assembles a Snapshot. If one side fails to fetch, the error is
// returned and no partial snapshot is produced.
func (f *Fetcher) FetchFullMarketData(ctx context.Context, m Market) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	yesTok, ok := m.YesToken()
	if !ok {
		return Snapshot{}, fmt.Errorf("market %s has no Yes token", m.ConditionID)
	}
	noTok, ok := m.NoToken()
	if !ok {
		return Snapshot{}, fmt.Errorf("market %s has no No token", m.ConditionID)
	}

	var (
		wg             sync.WaitGroup
		yesBook, noBook TokenBook
		yesErr, noErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		yesBook, yesErr = f.fetchTokenBook(ctx, yesTok.TokenID)
	}()
	go func() {
		defer wg.Done()
		noBook, noErr = f.fetchTokenBook(ctx, noTok.TokenID)
	}()
	wg.Wait()

	if yesErr != nil {
		return Snapshot{}, fmt.Errorf("fetch yes book: %w", yesErr)
	}
	if noErr != nil {
		return Snapshot{}, fmt.Errorf("fetch no book: %w", noErr)
	}

	return Snapshot{
		Market:    m,
		Yes:       yesBook,
		No:        noBook,
		FetchedAt: time.Now(),
	}, nil
}

func (f *Fetcher) fetchTokenBook(ctx context.Context, tokenID string) (TokenBook, error) {
	book, err := f.clobClient.OrderBook(ctx, &clobtypes.BookRequest{TokenID: tokenID})
	if err != nil {
		return TokenBook{}, err
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return TokenBook{TokenID: tokenID}, nil
	}

	bestBid, _ := strconv.ParseFloat(book.Bids[0].Price, 64)
	bestAsk, _ := strconv.ParseFloat(book.Asks[0].Price, 64)

	var bidDepth, askDepth float64
	for i := 0; i < DepthLevels && i < len(book.Bids); i++ {
		size, _ := strconv.ParseFloat(book.Bids[i].Size, 64)
		bidDepth += size
	}
	for i := 0; i < DepthLevels && i < len(book.Asks); i++ {
		size, _ := strconv.ParseFloat(book.Asks[i].Size, 64)
		askDepth += size
	}

	return TokenBook{
		TokenID:  tokenID,
		BestBid:  bestBid,
		BestAsk:  bestAsk,
		BidDepth: bidDepth,
		AskDepth: askDepth,
	}, nil
}
