package jobs

import (
	"fmt"
	"path"
	"sort"

	corev1 "k8s.io/api/core/v1"

	"taskrun/internal/config"
	"taskrun/internal/templatedata"
)

const (
	sshKeysVolume = "ssh-keys"

	// SSHPrivateKey is the key read from SSH credential secrets.
	SSHPrivateKey = "ssh-privatekey"

	sshKeyMode int32 = 0400
)

// Credential is how one repository is authenticated.
type Credential struct {
	SecretName string
	SSH        bool

	// KeyPath is the private key file inside the container, SSH only.
	KeyPath string

	// TokenEnv is the variable carrying the token, token only.
	TokenEnv string
}

// CredentialFor maps a repository to its secret by convention: SSH URLs use
// the SSH prefix, everything else the token prefix, both suffixed with the
// repository's GitHub user.
func CredentialFor(repo templatedata.Repository, secrets config.SecretsConfig, tokenEnv string) Credential {
	if repo.SSH {
		name := secrets.SSHSecretPrefix + repo.GitHubUser
		return Credential{
			SecretName: name,
			SSH:        true,
			KeyPath:    path.Join(templatedata.SSHKeysMount, name, SSHPrivateKey),
		}
	}
	return Credential{
		SecretName: secrets.TokenSecretPrefix + repo.GitHubUser,
		TokenEnv:   tokenEnv,
	}
}

// credentialSet collects the volumes and env of several credentials.
type credentialSet struct {
	secrets config.SecretsConfig
	ssh     map[string]struct{}
	env     []corev1.EnvVar
	seenEnv map[string]struct{}
}

func newCredentialSet(secrets config.SecretsConfig) *credentialSet {
	return &credentialSet{
		secrets: secrets,
		ssh:     map[string]struct{}{},
		seenEnv: map[string]struct{}{},
	}
}

// add registers c and exposes it under keyEnv (SSH) or c.TokenEnv (token).
func (s *credentialSet) add(c Credential, keyEnv string) {
	if c.SSH {
		s.ssh[c.SecretName] = struct{}{}
		if keyEnv != "" {
			s.addEnv(corev1.EnvVar{Name: keyEnv, Value: c.KeyPath})
		}
		return
	}
	s.addEnv(corev1.EnvVar{
		Name: c.TokenEnv,
		ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: c.SecretName},
				Key:                  s.secrets.TokenSecretKey,
			},
		},
	})
}

func (s *credentialSet) addEnv(e corev1.EnvVar) {
	if _, dup := s.seenEnv[e.Name]; dup {
		return
	}
	s.seenEnv[e.Name] = struct{}{}
	s.env = append(s.env, e)
}

// volume returns the projected SSH key volume, or nil when no SSH secret is used.
func (s *credentialSet) volume() *corev1.Volume {
	if len(s.ssh) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.ssh))
	for n := range s.ssh {
		names = append(names, n)
	}
	sort.Strings(names)

	mode := sshKeyMode
	sources := make([]corev1.VolumeProjection, 0, len(names))
	for _, n := range names {
		sources = append(sources, corev1.VolumeProjection{
			Secret: &corev1.SecretProjection{
				LocalObjectReference: corev1.LocalObjectReference{Name: n},
				Items: []corev1.KeyToPath{{
					Key:  SSHPrivateKey,
					Path: fmt.Sprintf("%s/%s", n, SSHPrivateKey),
					Mode: &mode,
				}},
			},
		})
	}
	return &corev1.Volume{
		Name: sshKeysVolume,
		VolumeSource: corev1.VolumeSource{
			Projected: &corev1.ProjectedVolumeSource{Sources: sources, DefaultMode: &mode},
		},
	}
}

func (s *credentialSet) mount() *corev1.VolumeMount {
	if len(s.ssh) == 0 {
		return nil
	}
	return &corev1.VolumeMount{Name: sshKeysVolume, MountPath: templatedata.SSHKeysMount, ReadOnly: true}
}

// GitSSHCommand is the ssh invocation git uses with the given key.
func GitSSHCommand(keyPath string) string {
	return "ssh -i " + keyPath + " -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new"
}
