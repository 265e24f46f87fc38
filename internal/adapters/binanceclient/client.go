package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ratchetBot/internal/domain"
	"ratchetBot/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	maxKlinesPerRequest = 1000
)

// Client implements the ports.ExchangeClient interface using the go-binance spot API.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		spotClient: client,
		logger:     cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mappedErr := mapAPIError(apiErr)
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if errors.Is(err, ports.ErrMalformedData) || errors.Is(err, ports.ErrSymbolNotFound) {
		finalErr = fmt.Errorf("%s failed: %w", operation, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

func mapAPIError(apiErr *common.APIError) error {
	switch apiErr.Code {
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022: // Signature for this request is not valid
		return ports.ErrAuthenticationFailed
	case -1013, -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2010: // New order rejected; the message carries the reason
		if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
			return ports.ErrInsufficientFunds
		}
		return ports.ErrOrderPlacementFailed
	case -2011: // Cancel order rejected
		if strings.Contains(strings.ToLower(apiErr.Message), "unknown order") {
			return ports.ErrOrderNotFound
		}
		return ports.ErrOrderCancelFailed
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2014: // API-key format invalid
		return ports.ErrInvalidAPIKeys
	case -2015: // Invalid API-key, IP, or permissions for action
		return ports.ErrInvalidAPIKeys
	default:
		return ports.ErrUnknown
	}
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.spotClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Get24hTickers returns the rolling 24-hour summary of every listed symbol.
func (c *Client) Get24hTickers(ctx context.Context) ([]domain.Ticker24h, error) {
	op := "Get24hTickers"
	stats, err := c.spotClient.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	tickers := make([]domain.Ticker24h, 0, len(stats))
	skipped := 0
	for _, s := range stats {
		t, ok := translateTicker(s)
		if !ok {
			skipped++
			continue
		}
		tickers = append(tickers, t)
	}
	if skipped > 0 {
		c.logger.Debug(ctx, op+": Skipped unparsable tickers", map[string]interface{}{"skipped": skipped})
	}
	return tickers, nil
}

// GetKlines retrieves the latest klines for the given symbol, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	binanceKlines, err := c.spotClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("%w: %w", ports.ErrMalformedData, err), op)
		}
		domainKlines = append(domainKlines, dk)
	}
	return domainKlines, nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and end time.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var allKlines []*domain.Kline
	from := start

	for {
		klines, err := c.spotClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			dk, err := translateBinanceKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("%w: %w", ports.ErrMalformedData, err), op)
			}
			allKlines = append(allKlines, dk)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if from.After(end) || len(klines) < maxKlinesPerRequest {
			break
		}
	}

	return allKlines, nil
}

// GetTickerPrice retrieves the last traded price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	prices, err := c.spotClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || price <= 0 {
			return 0, c.handleError(ctx, fmt.Errorf("%w: could not parse price '%s' for %s", ports.ErrMalformedData, p.Price, symbol), op)
		}
		return price, nil
	}
	return 0, c.handleError(ctx, fmt.Errorf("%w: no price returned for %s", ports.ErrSymbolNotFound, symbol), op)
}

// GetSymbolFilters retrieves tick/step sizes, minimums and trailing capability for a symbol.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	op := "GetSymbolFilters"
	info, err := c.spotClient.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		orderTypes := make([]string, 0, len(s.OrderTypes))
		for _, ot := range s.OrderTypes {
			orderTypes = append(orderTypes, string(ot))
		}
		filters, err := parseSymbolFilters(s.Symbol, s.BaseAsset, s.QuoteAsset, s.Filters, orderTypes)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		return filters, nil
	}
	return nil, c.handleError(ctx, fmt.Errorf("%w: %s", ports.ErrSymbolNotFound, symbol), op)
}

// GetBalances returns asset -> free quantity for every asset with a non-zero free balance.
func (c *Client) GetBalances(ctx context.Context) (map[string]float64, error) {
	op := "GetBalances"
	account, err := c.spotClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	balances := make(map[string]float64, len(account.Balances))
	for _, b := range account.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("%w: could not parse balance '%s' for asset %s", ports.ErrMalformedData, b.Free, b.Asset), op)
		}
		if free > 0 {
			balances[b.Asset] = free
		}
	}
	return balances, nil
}

// GetAccountBalance retrieves the free balance for a specific asset. A missing asset has zero balance.
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	balances, err := c.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	return balances[asset], nil
}

// GetOpenOrders lists resting orders; an empty symbol lists all symbols.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	op := "GetOpenOrders"
	svc := c.spotClient.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]ports.OpenOrder, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		out = append(out, translateOpenOrder(o))
	}
	return out, nil
}

// GetOrder retrieves the current state of an order.
func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "GetOrder"
	order, err := c.spotClient.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(order), nil
}

// PlaceMarketOrder places a market order for the given base quantity.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	order, err := c.spotClient.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(quantity).
		NewClientOrderID(newClientOrderID()).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": quantity, "orderID": resp.OrderID, "avgPrice": resp.AvgPrice})
	return resp, nil
}

// PlaceStopLimitOrder places a GTC stop-limit order.
func (c *Client) PlaceStopLimitOrder(ctx context.Context, req ports.StopLimitRequest) (*ports.OrderResponse, error) {
	op := "PlaceStopLimitOrder"
	order, err := c.spotClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderTypeStopLossLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(req.Quantity).
		Price(req.LimitPrice).
		StopPrice(req.StopPrice).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		c.logger.Warn(ctx, op+": Order rejected", map[string]interface{}{"symbol": req.Symbol, "side": req.Side, "quantity": req.Quantity, "stopPrice": req.StopPrice, "limitPrice": req.LimitPrice})
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	if stop, err := strconv.ParseFloat(req.StopPrice, 64); err == nil {
		resp.StopPrice = stop
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": req.Symbol, "side": req.Side, "quantity": req.Quantity, "stopPrice": req.StopPrice, "limitPrice": req.LimitPrice, "orderID": resp.OrderID})
	return resp, nil
}

// PlaceTrailingStopOrder places a stop-loss order trailed by the exchange.
func (c *Client) PlaceTrailingStopOrder(ctx context.Context, req ports.TrailingStopRequest) (*ports.OrderResponse, error) {
	op := "PlaceTrailingStopOrder"
	delta := TrailingDeltaBips(req.CallbackRatePct)
	if delta <= 0 {
		return nil, c.handleError(ctx, fmt.Errorf("%w: callback rate %.4f%% is too small", ports.ErrInvalidRequest, req.CallbackRatePct), op)
	}

	svc := c.spotClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderTypeStopLoss).
		Quantity(req.Quantity).
		TrailingDelta(strconv.Itoa(delta)).
		NewClientOrderID(newClientOrderID())
	if req.ActivationPrice != "" {
		svc = svc.StopPrice(req.ActivationPrice)
	}
	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": req.Symbol, "side": req.Side, "quantity": req.Quantity, "trailingDelta": delta, "orderID": resp.OrderID})
	return resp, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})

	res, err := c.spotClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	origQty, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	price, _ := strconv.ParseFloat(res.Price, 64)
	resp := &ports.OrderResponse{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		ClientOrderID: res.ClientOrderID,
		Price:         price,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(res.Status),
		Type:          string(res.Type),
		Side:          string(res.Side),
		Timestamp:     time.UnixMilli(res.TransactTime),
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}

// TrailingDeltaBips converts a trail distance in percent to the exchange's basis points.
func TrailingDeltaBips(pct float64) int {
	return int(math.Round(pct * 100))
}

func newClientOrderID() string {
	return "rb-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// --- Translation Helpers ---

// parseSymbolFilters reads the exchange-info filter list of one symbol.
func parseSymbolFilters(symbol, base, quote string, raw []map[string]interface{}, orderTypes []string) (*domain.SymbolFilters, error) {
	f := &domain.SymbolFilters{Symbol: symbol, BaseAsset: base, QuoteAsset: quote}
	hasTrailingDelta := false

	for _, filter := range raw {
		filterType, _ := filter["filterType"].(string)
		switch filterType {
		case "PRICE_FILTER":
			f.TickSize = numberField(filter, "tickSize")
			f.MinPrice = numberField(filter, "minPrice")
		case "LOT_SIZE":
			f.StepSize = numberField(filter, "stepSize")
			f.MinQty = numberField(filter, "minQty")
		case "NOTIONAL", "MIN_NOTIONAL":
			if v := numberField(filter, "minNotional"); v > f.MinNotional {
				f.MinNotional = v
			}
		case "TRAILING_DELTA":
			hasTrailingDelta = true
		}
	}

	if f.TickSize <= 0 || f.StepSize <= 0 {
		return nil, fmt.Errorf("%w: %s has no usable PRICE_FILTER/LOT_SIZE", ports.ErrMalformedData, symbol)
	}

	// Trailing orders are placed as STOP_LOSS; STOP_LOSS_LIMIT alone does not qualify.
	stopLoss := false
	for _, t := range orderTypes {
		if t == string(binance.OrderTypeStopLoss) {
			stopLoss = true
			break
		}
	}
	f.TrailingSupported = hasTrailingDelta && stopLoss
	return f, nil
}

func numberField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case string:
		n, _ := strconv.ParseFloat(v, 64)
		return n
	case float64:
		return v
	default:
		return 0
	}
}

func translateTicker(s *binance.PriceChangeStats) (domain.Ticker24h, bool) {
	if s == nil {
		return domain.Ticker24h{}, false
	}
	change, err1 := strconv.ParseFloat(s.PriceChangePercent, 64)
	volume, err2 := strconv.ParseFloat(s.QuoteVolume, 64)
	last, err3 := strconv.ParseFloat(s.LastPrice, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return domain.Ticker24h{}, false
	}
	return domain.Ticker24h{
		Symbol:             s.Symbol,
		PriceChangePercent: change,
		QuoteVolume:        volume,
		LastPrice:          last,
	}, true
}

func translateOrderResponse(order *binance.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	quoteQty, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)

	var avgPrice float64
	if execQty > 0 {
		avgPrice = quoteQty / execQty
	}

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Type:          string(order.Type),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.TransactTime),
	}
}

func translateOrder(order *binance.Order) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	stop, _ := strconv.ParseFloat(order.StopPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	quoteQty, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)

	var avgPrice float64
	if execQty > 0 {
		avgPrice = quoteQty / execQty
	}

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         price,
		StopPrice:     stop,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Type:          string(order.Type),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

func translateOpenOrder(order *binance.Order) ports.OpenOrder {
	price, _ := strconv.ParseFloat(order.Price, 64)
	stop, _ := strconv.ParseFloat(order.StopPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	return ports.OpenOrder{
		OrderID:   order.OrderID,
		Symbol:    order.Symbol,
		Type:      string(order.Type),
		Side:      string(order.Side),
		Price:     price,
		OrigQty:   origQty,
		StopPrice: stop,
	}
}

func translateBinanceKline(bk *binance.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}
