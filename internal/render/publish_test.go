package render

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"taskrun/internal/naming"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

func testScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	s := runtime.NewScheme()
	require.NoError(t, clientgoscheme.AddToScheme(s))
	require.NoError(t, v1alpha1.AddToScheme(s))
	return s
}

func TestPublish_CreatesOwnedConfigMap(t *testing.T) {
	scheme := testScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).Build()
	tr := taskRun(v1alpha1.VariantCode)

	b, err := Render(buildContext(t, tr))
	require.NoError(t, err)

	ref, err := NewPublisher(c, scheme).Publish(context.Background(), tr, b)
	require.NoError(t, err)
	assert.Equal(t, "trader-task-1-bundle", ref.Name)
	assert.Equal(t, b.Hash, ref.Hash)

	cm := &corev1.ConfigMap{}
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: "agents", Name: ref.Name}, cm))
	assert.Equal(t, b.Files, cm.Data)
	assert.Equal(t, b.Hash, cm.Annotations[naming.AnnotationBundleHash])
	assert.Equal(t, naming.ManagedBy, cm.Labels[naming.LabelManagedBy])
	require.Len(t, cm.OwnerReferences, 1)
	assert.Equal(t, v1alpha1.TaskRunKind, cm.OwnerReferences[0].Kind)
	assert.True(t, *cm.OwnerReferences[0].Controller)
}

func TestPublish_IsIdempotent(t *testing.T) {
	scheme := testScheme(t)
	updates := 0
	c := fake.NewClientBuilder().WithScheme(scheme).WithInterceptorFuncs(interceptor.Funcs{
		Update: func(ctx context.Context, cl client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
			updates++
			return cl.Update(ctx, obj, opts...)
		},
	}).Build()
	tr := taskRun(v1alpha1.VariantCode)
	b, err := Render(buildContext(t, tr))
	require.NoError(t, err)

	p := NewPublisher(c, scheme)
	_, err = p.Publish(context.Background(), tr, b)
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), tr, b)
	require.NoError(t, err)
	assert.Equal(t, 0, updates)

	list := &corev1.ConfigMapList{}
	require.NoError(t, c.List(context.Background(), list, client.InNamespace("agents")))
	assert.Len(t, list.Items, 1)

	// a changed bundle replaces the content in one update
	tr.Spec.Model = "opus"
	changed, err := Render(buildContext(t, tr))
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), tr, changed)
	require.NoError(t, err)
	assert.Equal(t, 1, updates)

	cm := &corev1.ConfigMap{}
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: "agents", Name: naming.Bundle(tr.Name)}, cm))
	assert.Equal(t, changed.Files, cm.Data)
}

func TestPublish_CreateFailureLeavesNothing(t *testing.T) {
	scheme := testScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithInterceptorFuncs(interceptor.Funcs{
		Create: func(ctx context.Context, cl client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			return apierrors.NewForbidden(schema.GroupResource{Resource: "configmaps"}, obj.GetName(), errors.New("denied"))
		},
	}).Build()
	tr := taskRun(v1alpha1.VariantDocs)
	b, err := Render(buildContext(t, tr))
	require.NoError(t, err)

	_, err = NewPublisher(c, scheme).Publish(context.Background(), tr, b)
	require.Error(t, err)
	assert.True(t, apierrors.IsForbidden(err))

	list := &corev1.ConfigMapList{}
	require.NoError(t, c.List(context.Background(), list))
	assert.Empty(t, list.Items)
}
