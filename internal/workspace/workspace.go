// Package workspace owns the per-service workspace volume claims.
//
// A claim is keyed by service name, not by TaskRun, so it carries no owner
// reference and outlives every TaskRun that used it.
package workspace

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"taskrun/internal/config"
	"taskrun/internal/naming"
	"taskrun/pkg/logging"
)

// ensureTimeout bounds a claim round trip shared by several callers.
const ensureTimeout = 30 * time.Second

// VolumeRef identifies a workspace claim.
type VolumeRef struct {
	Namespace string
	ClaimName string

	// Created is true when this call created the claim.
	Created bool
}

// Manager creates workspace claims on demand.
type Manager struct {
	client client.Client
	group  singleflight.Group
}

// NewManager creates a Manager.
func NewManager(c client.Client) *Manager {
	return &Manager{client: c}
}

// EnsureWorkspace returns the claim for service, creating it if needed.
// Concurrent calls for the same claim share one round trip, and losing a
// creation race to another writer counts as success. Only the caller whose
// call performed the creation sees Created; the others get a copy with
// Created unset. Cancelling ctx releases this caller without aborting the
// shared round trip.
func (m *Manager) EnsureWorkspace(ctx context.Context, namespace, service string, cfg config.WorkspaceConfig) (VolumeRef, error) {
	name := naming.WorkspaceClaim(service)
	key := namespace + "/" + name

	ran := false
	ch := m.group.DoChan(key, func() (interface{}, error) {
		ran = true
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ensureTimeout)
		defer cancel()
		return m.ensure(sharedCtx, namespace, name, service, cfg)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return VolumeRef{}, res.Err
		}
		ref := res.Val.(VolumeRef)
		ref.Created = ref.Created && ran
		return ref, nil
	case <-ctx.Done():
		return VolumeRef{}, fmt.Errorf("waiting for workspace claim %s: %w", name, ctx.Err())
	}
}

func (m *Manager) ensure(ctx context.Context, namespace, name, service string, cfg config.WorkspaceConfig) (VolumeRef, error) {
	ref := VolumeRef{Namespace: namespace, ClaimName: name}

	existing := &corev1.PersistentVolumeClaim{}
	err := m.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, existing)
	if err == nil {
		return ref, nil
	}
	if !apierrors.IsNotFound(err) {
		return ref, fmt.Errorf("failed to get workspace claim %s: %w", name, err)
	}

	pvc, err := claimFor(namespace, name, service, cfg)
	if err != nil {
		return ref, err
	}
	if err := m.client.Create(ctx, pvc); err != nil {
		if apierrors.IsAlreadyExists(err) {
			logging.Debug("Workspace", "Claim %s/%s created concurrently", namespace, name)
			return ref, nil
		}
		return ref, fmt.Errorf("failed to create workspace claim %s: %w", name, err)
	}

	logging.Info("Workspace", "Created workspace claim %s/%s (%s)", namespace, name, cfg.Size)
	ref.Created = true
	return ref, nil
}

func claimFor(namespace, name, service string, cfg config.WorkspaceConfig) (*corev1.PersistentVolumeClaim, error) {
	size, err := resource.ParseQuantity(cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace size %q: %w", cfg.Size, err)
	}
	accessMode := corev1.PersistentVolumeAccessMode(cfg.AccessMode)
	if accessMode == "" {
		accessMode = corev1.ReadWriteOnce
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    naming.WorkspaceLabels(service),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{accessMode},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}
	if cfg.StorageClassName != "" {
		sc := cfg.StorageClassName
		pvc.Spec.StorageClassName = &sc
	}
	return pvc, nil
}
