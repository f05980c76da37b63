package web

import (
	"embed"
)

// staticFiles holds the operator page served at "/".
//
//go:embed static/*
var staticFiles embed.FS
