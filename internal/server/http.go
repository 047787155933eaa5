package server

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/query"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/holiman/uint256"
	"google.golang.org/grpc/codes"
)

// errBadRequest marks malformed requests (bad address, amount or body).
var errBadRequest = errors.New("bad request")

var marshaler = &runtime.JSONBuiltin{}

type amountRequest struct {
	Amount string `json:"amount"`
}

type tokenRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type liquidationRequest struct {
	Liquidator  string `json:"liquidator"`
	Target      string `json:"target"`
	DebtToCover string `json:"debt_to_cover"`
}

type priceRequest struct {
	Price  string `json:"price"`
	Setter string `json:"setter"`
}

// MutationResponse is returned by every committed ledger operation.
type MutationResponse struct {
	Event    ingestion.PublishedEvent `json:"event"`
	Position *query.PositionView      `json:"position,omitempty"`
	Target   *query.PositionView      `json:"target,omitempty"`
	Price    *query.PriceView         `json:"price,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type routeFunc func(r *http.Request, params map[string]string) (any, error)

type api struct {
	deps Deps
}

func newGatewayMux(deps Deps) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	a := &api{deps: deps}

	routes := []struct {
		method  string
		pattern string
		fn      routeFunc
	}{
		{http.MethodGet, "/v1/accounts/{account}/position", a.getPosition},
		{http.MethodGet, "/v1/accounts/{account}/health", a.getHealth},
		{http.MethodGet, "/v1/accounts/{account}/balances", a.getBalances},
		{http.MethodPost, "/v1/accounts/{account}/deposit", a.mutate(core.OpDeposit)},
		{http.MethodPost, "/v1/accounts/{account}/withdraw", a.mutate(core.OpWithdraw)},
		{http.MethodPost, "/v1/accounts/{account}/borrow", a.mutate(core.OpBorrow)},
		{http.MethodPost, "/v1/accounts/{account}/repay", a.mutate(core.OpRepay)},
		{http.MethodPost, "/v1/accounts/{account}/approve", a.approve},
		{http.MethodPost, "/v1/accounts/{account}/faucet", a.faucet},
		{http.MethodPost, "/v1/liquidations", a.liquidate},
		{http.MethodPost, "/v1/liquidations/quote", a.quote},
		{http.MethodGet, "/v1/liquidations", a.history},
		{http.MethodGet, "/v1/liquidatable", a.liquidatable},
		{http.MethodGet, "/v1/price", a.getPrice},
		{http.MethodPut, "/v1/price", a.setPrice},
		{http.MethodGet, "/v1/stats", a.stats},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, a.handle(rt.pattern, rt.fn)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	// Health endpoints
	if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		deps.Health.LivenessHandler(w, r)
	}); err != nil {
		return nil, err
	}
	if err := mux.HandlePath(http.MethodGet, "/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		deps.Health.ReadinessHandler(w, r)
	}); err != nil {
		return nil, err
	}
	return mux, nil
}

// handle renders fn's result as JSON and records request metrics.
func (a *api) handle(route string, fn routeFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		status := http.StatusOK

		result, err := fn(r, params)
		if err != nil {
			code := grpcCode(err)
			status = runtime.HTTPStatusFromCode(code)
			body := errorBody{Code: code.String(), Message: err.Error()}
			if kind := core.Kind(err); kind != "Internal" {
				body.Kind = kind
			}
			writeJSON(w, status, body)
		} else {
			writeJSON(w, status, result)
		}

		if m := a.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := marshaler.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"code":"Internal","message":"encode response"}`)
	}
	w.Header().Set("Content-Type", marshaler.ContentType(v))
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// grpcCode maps ledger and service errors onto gRPC status codes; the HTTP
// status follows from the code.
func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrInvalidLiquidationAmount),
		errors.Is(err, query.ErrUnknownAsset):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrUndercollateralized),
		errors.Is(err, core.ErrNotLiquidatable):
		return codes.FailedPrecondition
	case errors.Is(err, core.ErrExternalTransfer):
		return codes.Aborted
	case errors.Is(err, query.ErrNoDatabase):
		return codes.Unavailable
	case errors.Is(err, query.ErrFaucetDisabled):
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := marshaler.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: body: %v", errBadRequest, err)
	}
	return nil
}

func parseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s: invalid address %q", errBadRequest, field, s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount reads a base-10 integer in 18-decimal smallest units.
func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return v, nil
}

func (a *api) getPosition(_ *http.Request, params map[string]string) (any, error) {
	account, err := parseAddress("account", params["account"])
	if err != nil {
		return nil, err
	}
	return a.deps.Query.GetPosition(account)
}

func (a *api) getHealth(_ *http.Request, params map[string]string) (any, error) {
	account, err := parseAddress("account", params["account"])
	if err != nil {
		return nil, err
	}
	return a.deps.Query.GetHealth(account)
}

func (a *api) getBalances(_ *http.Request, params map[string]string) (any, error) {
	account, err := parseAddress("account", params["account"])
	if err != nil {
		return nil, err
	}
	return a.deps.Query.GetBalances(account), nil
}

func (a *api) mutate(op core.Op) routeFunc {
	return func(r *http.Request, params map[string]string) (any, error) {
		account, err := parseAddress("account", params["account"])
		if err != nil {
			return nil, err
		}
		var req amountRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}

		env, err := a.deps.Engine.Execute(core.Command{Op: op, Account: account, Amount: amount})
		if err != nil {
			return nil, err
		}
		resp, err := a.response(env)
		if err != nil {
			return nil, err
		}
		if resp.Position, err = a.deps.Query.GetPosition(account); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

func (a *api) approve(r *http.Request, params map[string]string) (any, error) {
	account, asset, amount, err := a.tokenArgs(r, params)
	if err != nil {
		return nil, err
	}
	return a.deps.Tokens.Approve(account, asset, amount)
}

func (a *api) faucet(r *http.Request, params map[string]string) (any, error) {
	account, asset, amount, err := a.tokenArgs(r, params)
	if err != nil {
		return nil, err
	}
	return a.deps.Tokens.Faucet(account, asset, amount)
}

func (a *api) tokenArgs(r *http.Request, params map[string]string) (common.Address, string, *uint256.Int, error) {
	account, err := parseAddress("account", params["account"])
	if err != nil {
		return common.Address{}, "", nil, err
	}
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		return common.Address{}, "", nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return common.Address{}, "", nil, err
	}
	return account, strings.TrimSpace(req.Asset), amount, nil
}

func (a *api) liquidate(r *http.Request, _ map[string]string) (any, error) {
	var req liquidationRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		return nil, err
	}
	target, err := parseAddress("target", req.Target)
	if err != nil {
		return nil, err
	}
	debt, err := parseAmount("debt_to_cover", req.DebtToCover)
	if err != nil {
		return nil, err
	}

	env, err := a.deps.Engine.Liquidate(liquidator, target, debt)
	if err != nil {
		return nil, err
	}
	resp, err := a.response(env)
	if err != nil {
		return nil, err
	}
	if resp.Target, err = a.deps.Query.GetPosition(target); err != nil {
		return nil, err
	}
	return resp, nil
}

func (a *api) quote(r *http.Request, _ map[string]string) (any, error) {
	var req liquidationRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	target, err := parseAddress("target", req.Target)
	if err != nil {
		return nil, err
	}
	debt, err := parseAmount("debt_to_cover", req.DebtToCover)
	if err != nil {
		return nil, err
	}
	return a.deps.Query.QuoteLiquidation(target, debt), nil
}

func (a *api) history(r *http.Request, _ map[string]string) (any, error) {
	q := r.URL.Query()

	var target *common.Address
	if s := q.Get("target"); s != "" {
		addr, err := parseAddress("target", s)
		if err != nil {
			return nil, err
		}
		target = &addr
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: limit: %v", errBadRequest, err)
		}
		limit = n
	}
	return a.deps.Query.LiquidationHistory(r.Context(), target, limit)
}

func (a *api) liquidatable(_ *http.Request, _ map[string]string) (any, error) {
	return a.deps.Query.ScanLiquidatable(), nil
}

func (a *api) getPrice(_ *http.Request, _ map[string]string) (any, error) {
	return a.deps.Query.GetPrice(), nil
}

func (a *api) setPrice(r *http.Request, _ map[string]string) (any, error) {
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	setter, err := parseAddress("setter", req.Setter)
	if err != nil {
		return nil, err
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		return nil, err
	}

	env, err := a.deps.Engine.SetPrice(setter, price)
	if err != nil {
		return nil, err
	}
	resp, err := a.response(env)
	if err != nil {
		return nil, err
	}
	resp.Price = a.deps.Query.GetPrice()
	return resp, nil
}

func (a *api) stats(_ *http.Request, _ map[string]string) (any, error) {
	return a.deps.Query.GetStats(), nil
}

func (a *api) response(env *event.EventEnvelope) (*MutationResponse, error) {
	evt, err := ingestion.NewPublishedEvent(core.CoreOutput{Envelope: env})
	if err != nil {
		return nil, err
	}
	return &MutationResponse{Event: evt}, nil
}
