// Package containers starts throwaway MySQL and Mosquitto servers for
// integration tests. Every file carries the integration build tag:
//
//	go test -tags=integration ./...
//
// Containers are usually started once per package in TestMain and
// terminated after m.Run.
package containers
