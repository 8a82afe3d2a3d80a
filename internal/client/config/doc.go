// Package config loads runtime configuration for the FoodAI agent.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via flags: -c or -config.
//  3. FOODAI_* environment variables (see the env tags on Config).
//  4. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string     address:port of the reconciler gRPC endpoint
//	-i int        online status check interval (seconds)
//	-r string     reconciler: grpc, s3 or none
//	-d string     data directory
//	-s duration   background sync interval
//	-l string     log level
//
// # JSON schema
//
// Durations are strings like "30s" or integer nanoseconds. Keys absent from
// the file keep their previous value:
//
//	{
//	  "reconciler": "grpc",
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "online_check_interval": "3s",
//	  "sync_interval": "30s",
//	  "max_records": 100,
//	  "result_cache_ttl": "10m"
//	}
package config
