package utils

import (
	"encoding/json"

	"github.com/go-resty/resty/v2"
	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog/log"
)

type ParseJsonValue[T any] struct {
	Value T
	Error error
}

func ParseJson[T any](data []byte) ParseJsonValue[T] {
	parsed := ParseJsonValue[T]{}
	if err := json.Unmarshal(data, &parsed.Value); err != nil {
		return ParseJsonValue[T]{Error: err}
	}
	return parsed
}

func ParseResponse[T any](res *resty.Response) ParseJsonValue[T] {
	return ParseJson[T](res.Body())
}

func ParseBody[T any](c echo.Context) ParseJsonValue[T] {
	parsed := ParseJsonValue[T]{}
	if err := c.Bind(&parsed.Value); err != nil {
		log.Warn().Err(err).Str("path", c.Request().URL.Path).Msg("Malformed request body")
		return ParseJsonValue[T]{Error: err}
	}
	return parsed
}
