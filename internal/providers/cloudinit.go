package providers

import (
	"fmt"
)

// CloudInitUserData returns a minimal cloud-init YAML that creates the ssh
// user the orchestrator connects as, authorizes the operator key and hardens
// sshd. The workspace directory is created up front so the first dispatch
// does not race the user's home directory creation.
func CloudInitUserData(username, sshAuthorizedKey, workspace string) string {
	if username == "" {
		username = "ubuntu"
	}
	if workspace == "" {
		workspace = "/home/" + username + "/workspace"
	}
	return fmt.Sprintf(`#cloud-config
users:
  - name: %s
    sudo: ["ALL=(ALL) NOPASSWD:ALL"]
    shell: /bin/bash
    ssh_authorized_keys:
      - %s
ssh_pwauth: false
disable_root: true
write_files:
  - path: /etc/ssh/sshd_config.d/99-shardfleet.conf
    permissions: '0644'
    content: |
      PermitRootLogin no
      PasswordAuthentication no
      ChallengeResponseAuthentication no
runcmd:
  - mkdir -p %s
  - chown %s:%s %s
`, username, sshAuthorizedKey, workspace, username, username, workspace)
}
