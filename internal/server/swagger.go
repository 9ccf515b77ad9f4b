package server

//go:generate swag init -g internal/server/server.go -o internal/server/docs

// @title Lumen API
// @version 1.0
// @description Asynchronous accessibility scans: submit a URL, poll the scan, fetch reports.
// @contact.name Lumen Maintainers
// @contact.url https://github.com/raysh454/lumen
// @BasePath /
