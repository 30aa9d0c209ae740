// Package chain provides the gateway to the algod node and the indexer.
//
// The gateway is a thin, typed adapter: transient failures are retried with
// exponential backoff and transparently failed over to the configured fallback
// endpoint; 4xx responses propagate as fatal; 429 surfaces as RateLimited so
// callers can stop their loop and resume at their cursor.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/indexer"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
)

// FallbackMinFee is used when the node omits min-fee from suggested params.
const FallbackMinFee = 1000

const (
	maxAttempts    = 3
	initialBackoff = 250 * time.Millisecond
)

// Gateway is the chain surface the rest of the engine depends on.
type Gateway interface {
	SuggestedParams(ctx context.Context) (types.SuggestedParams, error)
	AccountInformation(ctx context.Context, address string) (models.Account, error)
	AssetInformation(ctx context.Context, assetID uint64) (models.Asset, error)
	PendingTransactionInfo(ctx context.Context, txid string) (models.PendingTransactionInfoResponse, error)
	SendRawTransaction(ctx context.Context, stx []byte) (string, error)
	WaitForConfirmation(ctx context.Context, txid string, maxRounds uint64) (models.PendingTransactionInfoResponse, error)

	IndexerHealthy(ctx context.Context) error
	SearchAssetTransfers(ctx context.Context, assetID, minRound uint64, nextToken string, limit uint64) (models.TransactionsResponse, error)
	LookupTransaction(ctx context.Context, txid string) (models.Transaction, error)
	ApplicationBoxByName(ctx context.Context, appID uint64, name []byte) ([]byte, error)
}

// Client implements Gateway over SDK algod and indexer clients.
type Client struct {
	algod           *algod.Client
	algodFallback   *algod.Client
	indexer         *indexer.Client
	indexerFallback *indexer.Client
}

// Config holds gateway configuration.
type Config struct {
	NodeURL            string
	NodeAuthHeader     string // custom header name; empty means X-Algo-API-Token
	NodeAuthToken      string
	NodeFallbackURL    string
	IndexerURL         string
	IndexerAuthHeader  string
	IndexerAuthToken   string
	IndexerFallbackURL string
}

// NewClient creates a gateway from configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.NodeURL == "" {
		return nil, fmt.Errorf("node URL required")
	}
	if cfg.IndexerURL == "" {
		return nil, fmt.Errorf("indexer URL required")
	}

	c := &Client{}

	var err error
	c.algod, err = makeAlgod(cfg.NodeURL, cfg.NodeAuthHeader, cfg.NodeAuthToken)
	if err != nil {
		return nil, fmt.Errorf("create algod client: %w", err)
	}
	if cfg.NodeFallbackURL != "" {
		c.algodFallback, err = makeAlgod(cfg.NodeFallbackURL, cfg.NodeAuthHeader, cfg.NodeAuthToken)
		if err != nil {
			return nil, fmt.Errorf("create fallback algod client: %w", err)
		}
	}

	c.indexer, err = makeIndexer(cfg.IndexerURL, cfg.IndexerAuthHeader, cfg.IndexerAuthToken)
	if err != nil {
		return nil, fmt.Errorf("create indexer client: %w", err)
	}
	if cfg.IndexerFallbackURL != "" {
		c.indexerFallback, err = makeIndexer(cfg.IndexerFallbackURL, cfg.IndexerAuthHeader, cfg.IndexerAuthToken)
		if err != nil {
			return nil, fmt.Errorf("create fallback indexer client: %w", err)
		}
	}

	return c, nil
}

func makeAlgod(url, authHeader, token string) (*algod.Client, error) {
	if authHeader != "" {
		return algod.MakeClientWithHeaders(url, "", []*common.Header{{Key: authHeader, Value: token}})
	}
	return algod.MakeClient(url, token)
}

func makeIndexer(url, authHeader, token string) (*indexer.Client, error) {
	if authHeader != "" {
		return indexer.MakeClientWithHeaders(url, "", []*common.Header{{Key: authHeader, Value: token}})
	}
	return indexer.MakeClient(url, token)
}

// MinFee extracts the per-transaction minimum fee from suggested params,
// falling back to the protocol default when the node omits it.
func MinFee(sp types.SuggestedParams) uint64 {
	if sp.MinFee > 0 {
		return uint64(sp.MinFee)
	}
	return FallbackMinFee
}

// withRetry runs fn against the primary, retrying transient failures with
// exponential backoff and switching to the fallback on the final attempt.
// RateLimited and fatal errors return immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func(useFallback bool) error) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		useFallback := attempt == maxAttempts-1
		err := classify(op, fn(useFallback))
		if err == nil {
			return nil
		}
		if !apperr.IsTransient(err) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return apperr.Transient(op+" cancelled", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

func (c *Client) node(useFallback bool) *algod.Client {
	if useFallback && c.algodFallback != nil {
		return c.algodFallback
	}
	return c.algod
}

func (c *Client) idx(useFallback bool) *indexer.Client {
	if useFallback && c.indexerFallback != nil {
		return c.indexerFallback
	}
	return c.indexer
}

// =============================================================================
// Node
// =============================================================================

// SuggestedParams returns the current transaction parameters.
func (c *Client) SuggestedParams(ctx context.Context) (types.SuggestedParams, error) {
	var sp types.SuggestedParams
	err := c.withRetry(ctx, "suggested params", func(fb bool) error {
		var err error
		sp, err = c.node(fb).SuggestedParams().Do(ctx)
		return err
	})
	return sp, err
}

// AccountInformation returns account state including holdings and local state.
func (c *Client) AccountInformation(ctx context.Context, address string) (models.Account, error) {
	var acct models.Account
	err := c.withRetry(ctx, "account information", func(fb bool) error {
		var err error
		acct, err = c.node(fb).AccountInformation(address).Do(ctx)
		return err
	})
	return acct, err
}

// AssetInformation returns asset parameters.
func (c *Client) AssetInformation(ctx context.Context, assetID uint64) (models.Asset, error) {
	var asset models.Asset
	err := c.withRetry(ctx, "asset information", func(fb bool) error {
		var err error
		asset, err = c.node(fb).GetAssetByID(assetID).Do(ctx)
		return err
	})
	return asset, err
}

// PendingTransactionInfo returns the pending status for a transaction.
func (c *Client) PendingTransactionInfo(ctx context.Context, txid string) (models.PendingTransactionInfoResponse, error) {
	var info models.PendingTransactionInfoResponse
	err := c.withRetry(ctx, "pending transaction", func(fb bool) error {
		var err error
		info, _, err = c.node(fb).PendingTransactionInformation(txid).Do(ctx)
		return err
	})
	return info, err
}

// SendRawTransaction submits concatenated signed bytes as one atomic unit and
// returns the first transaction's id. Duplicate-submission rejections are not
// retried; callers detect them with IsAlreadyInLedger.
func (c *Client) SendRawTransaction(ctx context.Context, stx []byte) (string, error) {
	txid, err := c.algod.SendRawTransaction(stx).Do(ctx)
	if err != nil {
		if IsAlreadyInLedger(err) {
			return "", err
		}
		return "", classify("send raw transaction", err)
	}
	return txid, nil
}

// WaitForConfirmation blocks until the transaction confirms or maxRounds pass.
// A pool error raises ErrPoolEvicted.
func (c *Client) WaitForConfirmation(ctx context.Context, txid string, maxRounds uint64) (models.PendingTransactionInfoResponse, error) {
	status, err := c.algod.Status().Do(ctx)
	if err != nil {
		return models.PendingTransactionInfoResponse{}, classify("node status", err)
	}

	current := status.LastRound
	deadline := current + maxRounds
	for current <= deadline {
		info, _, err := c.algod.PendingTransactionInformation(txid).Do(ctx)
		if err != nil {
			return models.PendingTransactionInfoResponse{}, classify("pending transaction", err)
		}
		if info.PoolError != "" {
			return info, fmt.Errorf("%w: %s", ErrPoolEvicted, info.PoolError)
		}
		if info.ConfirmedRound > 0 {
			return info, nil
		}

		if _, err := c.algod.StatusAfterBlock(current).Do(ctx); err != nil {
			return models.PendingTransactionInfoResponse{}, classify("status after block", err)
		}
		current++
	}
	return models.PendingTransactionInfoResponse{}, apperr.Transient(
		fmt.Sprintf("transaction %s not confirmed within %d rounds", txid, maxRounds), nil)
}

// =============================================================================
// Indexer
// =============================================================================

// IndexerHealthy checks the indexer health endpoint.
func (c *Client) IndexerHealthy(ctx context.Context) error {
	return c.withRetry(ctx, "indexer health", func(fb bool) error {
		_, err := c.idx(fb).HealthCheck().Do(ctx)
		return err
	})
}

// SearchAssetTransfers returns one page of asset-transfer transactions for the
// asset starting at minRound, resuming at nextToken when non-empty.
func (c *Client) SearchAssetTransfers(ctx context.Context, assetID, minRound uint64, nextToken string, limit uint64) (models.TransactionsResponse, error) {
	var page models.TransactionsResponse
	err := c.withRetry(ctx, "search transactions", func(fb bool) error {
		q := c.idx(fb).SearchForTransactions().
			AssetID(assetID).
			TxType("axfer").
			MinRound(minRound).
			Limit(limit)
		if nextToken != "" {
			q = q.NextToken(nextToken)
		}
		var err error
		page, err = q.Do(ctx)
		return err
	})
	return page, err
}

// LookupTransaction returns a transaction including its intra-round offset.
func (c *Client) LookupTransaction(ctx context.Context, txid string) (models.Transaction, error) {
	var resp models.TransactionResponse
	err := c.withRetry(ctx, "lookup transaction", func(fb bool) error {
		var err error
		resp, err = c.idx(fb).LookupTransaction(txid).Do(ctx)
		return err
	})
	return resp.Transaction, err
}

// ApplicationBoxByName returns the raw value of an application box.
func (c *Client) ApplicationBoxByName(ctx context.Context, appID uint64, name []byte) ([]byte, error) {
	var box models.Box
	err := c.withRetry(ctx, "application box", func(fb bool) error {
		var err error
		box, err = c.idx(fb).LookupApplicationBoxByIDAndName(appID, name).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return box.Value, nil
}
