package server

import (
	"errors"
	"net/http"

	"moneymarket/native/bank"
	"moneymarket/native/lending"
	"moneymarket/native/oracle"
)

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var kindStatus = map[lending.Kind]int{
	lending.KindAuthorization: http.StatusForbidden,
	lending.KindPaused:        http.StatusServiceUnavailable,
	lending.KindListing:       http.StatusConflict,
	lending.KindFreshness:     http.StatusConflict,
	lending.KindBounds:        http.StatusBadRequest,
	lending.KindLiquidity:     http.StatusUnprocessableEntity,
	lending.KindResource:      http.StatusUnprocessableEntity,
	lending.KindConsistency:   http.StatusConflict,
	lending.KindFatal:         http.StatusInternalServerError,
}

// toStatus maps err to the HTTP status and body written to the client.
// Fatal failures never leak their message.
func toStatus(err error) (int, errorBody) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, body("request", "BadRequest", err.Error())
	case errors.Is(err, lending.ErrUnknownMarket), errors.Is(err, lending.ErrMarketNotListed):
		return http.StatusNotFound, body("listing", lending.CodeOf(err), err.Error())
	case errors.Is(err, lending.ErrHalted):
		return http.StatusServiceUnavailable, body("fatal", lending.ErrHalted.Code, "protocol halted")
	case errors.Is(err, bank.ErrUnknownAsset):
		return http.StatusNotFound, body("asset", "UnknownAsset", err.Error())
	case errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, body("asset", "InsufficientUnderlying", err.Error())
	case errors.Is(err, bank.ErrInvalidAmount), errors.Is(err, oracle.ErrInvalidPrice):
		return http.StatusBadRequest, body("bounds", "InvalidArguments", err.Error())
	case errors.Is(err, oracle.ErrUnauthorized):
		return http.StatusForbidden, body("authorization", "Unauthorized", err.Error())
	}
	kind := lending.KindOf(err)
	if status, ok := kindStatus[kind]; ok {
		if kind == lending.KindFatal {
			return status, body(kind.String(), lending.CodeOf(err), "internal error")
		}
		return status, body(kind.String(), lending.CodeOf(err), err.Error())
	}
	return http.StatusInternalServerError, body("unknown", "Internal", "internal error")
}

func body(kind, code, message string) errorBody {
	return errorBody{Error: errorDetail{Kind: kind, Code: code, Message: message}}
}
