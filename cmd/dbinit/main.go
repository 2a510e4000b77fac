// Package main is the entry point for dbinit, the users-service database
// first-boot bootstrap.
//
// @title          users dbinit API
// @version        1.0
// @description    First-boot database bootstrap for the users service — runs init scripts exactly once per data directory and exposes a health/status HTTP API.
// @host           localhost:8081
// @BasePath       /
// @schemes        http
package main

func main() {
	Execute()
}
