package render

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"taskrun/internal/naming"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
	"taskrun/pkg/logging"
)

// Publisher writes bundles to the cluster.
type Publisher struct {
	client client.Client
	scheme *runtime.Scheme
}

// NewPublisher creates a Publisher.
func NewPublisher(c client.Client, scheme *runtime.Scheme) *Publisher {
	return &Publisher{client: c, scheme: scheme}
}

// Publish stores the bundle as one ConfigMap owned by tr. The whole bundle is
// written in a single create or update, so readers see either the previous
// content or the new one. An existing ConfigMap with the same hash is left
// untouched.
func (p *Publisher) Publish(ctx context.Context, tr *v1alpha1.TaskRun, b *Bundle) (v1alpha1.BundleRef, error) {
	name := naming.Bundle(tr.Name)
	ref := v1alpha1.BundleRef{Name: name, Hash: b.Hash}

	desired := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   tr.Namespace,
			Labels:      naming.TaskRunLabels(tr),
			Annotations: map[string]string{naming.AnnotationBundleHash: b.Hash},
		},
		Data: b.Files,
	}
	if err := controllerutil.SetControllerReference(tr, desired, p.scheme); err != nil {
		return ref, fmt.Errorf("failed to set owner on bundle %s: %w", name, err)
	}

	err := p.client.Create(ctx, desired)
	if err == nil {
		logging.Info("Render", "Published bundle %s/%s", tr.Namespace, name)
		return ref, nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return ref, fmt.Errorf("failed to create bundle %s: %w", name, err)
	}

	existing := &corev1.ConfigMap{}
	if err := p.client.Get(ctx, client.ObjectKey{Namespace: tr.Namespace, Name: name}, existing); err != nil {
		return ref, fmt.Errorf("failed to get bundle %s: %w", name, err)
	}
	if existing.Annotations[naming.AnnotationBundleHash] == b.Hash {
		return ref, nil
	}

	existing.Labels = desired.Labels
	existing.Annotations = desired.Annotations
	existing.Data = desired.Data
	existing.BinaryData = nil
	existing.OwnerReferences = desired.OwnerReferences
	if err := p.client.Update(ctx, existing); err != nil {
		return ref, fmt.Errorf("failed to update bundle %s: %w", name, err)
	}
	logging.Info("Render", "Replaced bundle %s/%s", tr.Namespace, name)
	return ref, nil
}
