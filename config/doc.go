// Package config loads natsrpc configuration from layered files.
//
// A configuration names one or more namespaces. Each namespace owns one
// NATS connection plus the request defaults and subscribe prefix of the
// rpc.Service built on it.
//
// # Loading
//
// Layers are merged in order, later layers overriding earlier ones key by
// key. JSON, YAML and TOML layers may be mixed:
//
//	loader := config.NewLoader()
//	loader.AddLayer("natsrpc.yaml")
//	loader.AddLayer("production.toml")
//	cfg, err := loader.Load()
//
// After merging, NATSRPC_URL (comma separated), NATSRPC_TOKEN and
// NATSRPC_LAZY override every namespace. Unset fields then receive their
// defaults and the result is validated.
//
// # Durations
//
// Durations accept Go duration strings ("500ms", "2m"), day counts ("14d")
// or plain numbers of milliseconds. A request timeout of false disables the
// inactivity deadline:
//
//	namespaces:
//	  jobs:
//	    connection:
//	      urls: ["nats://nats-1:4222", "nats://nats-2:4222"]
//	      tls:
//	        enabled: true
//	        ca_file: certs/ca.pem
//	    request_defaults:
//	      timeout: 5s
//	      max_wait: 10m
//	    subscribe_prefix: "svc."
//	    lazy: true
//
// # Conversion
//
// NamespaceConfig converts to natsclient.ConnOptions, natsclient client
// options and rpc service options. Relative TLS and credentials paths are
// resolved against Config.Dir, the directory of the last loaded layer.
package config
