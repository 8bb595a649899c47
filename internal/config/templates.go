package config

import (
	"fmt"
	"os"
)

// Template is a starting rtdbctl.toml.
func Template() string {
	return clientTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(clientTemplate), 0o600)
}

const clientTemplate = `[session]
host = "demo-project.example.com"
namespace = "demo-project"
secure = true
auth_token = ""
handshake_timeout = "30s"
write_timeout = "10s"
keepalive = "45s"
event_buffer = 64

  [session.backoff]
  initial = "1s"
  multiplier = 1.0
  max = ""
  jitter = false

[admin]
enabled = true
addr = "127.0.0.1:9400"
token = ""
cors_origins = ["http://localhost:3000"]

[log]
level = "info"
timestamp = true
no_color = false
json = false

[[watch]]
path = "/status"

[[watch]]
path = "/messages"
order_by = ".key"
limit = 20
limit_to_last = true
`
