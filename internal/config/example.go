package config

import (
	"fmt"
	"os"
)

const exampleConfig = `# NodeWatch example configuration.
nodes:
  web-server-1:
    platform: linux
    ssh:
      host: 192.168.1.10
      username: admin
      key_file: ~/.ssh/id_ed25519
    services: [nginx, docker]
    tags: [production, web]

  db-server-1:
    platform: linux
    ssh:
      host: 192.168.1.20
      username: admin
    services: [postgres, redis-server]
    thresholds:
      memory_warning: 85
      memory_critical: 95
      disk_warning: 80
      disk_critical: 90
      load_warning: 6
      load_critical: 12
    remediation:
      enabled: true
      scripts_dir: ./remediation
      on_high_disk: cleanup_disk.sh
      on_service_down:
        redis-server: restart_redis.sh

  windows-server:
    platform: windows
    winrm:
      host: 192.168.1.40
      username: administrator
      password: changeme
    services: [w3svc]

  localhost:
    platform: linux
    local: true
    services: [docker]

thresholds:
  memory_warning: 80
  memory_critical: 90
  disk_warning: 80
  disk_critical: 90
  load_warning: 4
  load_critical: 8

monitor:
  check_interval_seconds: 60
  max_in_flight: 10
  node_timeout_ms: 30000
  cycle_timeout_ms: 120000
  cooldown_seconds: 300

notifiers:
  # telegram:
  #   bot_token: "123456:abcdef"   # or NW_TELEGRAM_BOT_TOKEN
  #   chat_id: "-1000000000"
  # slack:
  #   webhook_url: https://hooks.slack.com/services/XXX/YYY/ZZZ
  # webhook:
  #   url: https://alerts.example.com/hook
  #   method: POST

dashboard:
  enabled: true
  host: 0.0.0.0
  port: 8080
  refresh_interval_seconds: 30
  auth_enabled: false

logging:
  level: info
  format: text
`

// WriteExample writes the example configuration to path. It refuses to
// overwrite an existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing file: %s", path)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}
	return nil
}
