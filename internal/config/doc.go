// Package config provides configuration parsing for relay deployments.
//
// The configuration is stored in meshsync.json at the deployment root.
// This package handles loading, saving, and validating configuration.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "port": 9090,
//	    "host": "0.0.0.0",
//	    "allowedOrigins": ["*"],
//	    "shutdownTimeout": 15
//	  },
//	  "app": {
//	    "endpoint": "wss://app.example.com/sync",
//	    "sessionParam": "sessionId",
//	    "headers": {
//	      "Authorization": "Bearer ..."
//	    }
//	  },
//	  "transport": {
//	    "writeTimeoutSeconds": 10,
//	    "pongTimeoutSeconds": 60
//	  },
//	  "observability": {
//	    "metrics": true,
//	    "metricsPath": "/metrics",
//	    "tracing": false
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "text"
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Listen:", cfg.ListenAddress())
package config
