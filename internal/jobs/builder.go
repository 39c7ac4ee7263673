package jobs

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"taskrun/internal/config"
	"taskrun/internal/naming"
	"taskrun/internal/render"
	"taskrun/internal/templatedata"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

const (
	workspaceVolume = "workspace"
	configVolume    = "config"

	prepContainer  = "prep"
	agentContainer = "agent"

	configMode int32 = 0755
)

//go:embed scripts/*.sh
var scriptFS embed.FS

// PrepScript returns the full shell program run by the preparation job.
func PrepScript(variant v1alpha1.Variant) (string, error) {
	common, err := scriptFS.ReadFile("scripts/common.sh")
	if err != nil {
		return "", err
	}
	body, err := scriptFS.ReadFile("scripts/prep-" + string(variant) + ".sh")
	if err != nil {
		return "", fmt.Errorf("no preparation script for variant %q: %w", variant, err)
	}
	return "#!/bin/sh\nset -eu\n\n" + string(common) + "\n" + string(body), nil
}

// Builder constructs the two child jobs of a TaskRun.
type Builder struct {
	scheme *runtime.Scheme
}

// NewBuilder creates a Builder that sets owner references using scheme.
func NewBuilder(scheme *runtime.Scheme) *Builder {
	return &Builder{scheme: scheme}
}

// PrepJob builds the preparation job. Every run-specific value reaches the
// script through the environment.
func (b *Builder) PrepJob(tr *v1alpha1.TaskRun, tctx *templatedata.Context, bundle string) (*batchv1.Job, error) {
	script, err := PrepScript(tctx.Variant)
	if err != nil {
		return nil, err
	}
	resources, err := resourceRequirements(tctx.Resources.Prep)
	if err != nil {
		return nil, fmt.Errorf("prep resources: %w", err)
	}

	creds := newCredentialSet(tctx.Secrets)
	creds.add(CredentialFor(tctx.Repository, tctx.Secrets, "GITHUB_TOKEN"), "REPO_SSH_KEY")

	env := []corev1.EnvVar{
		{Name: "REPO_URL", Value: tctx.Repository.URL},
		{Name: "REPO_BRANCH", Value: tctx.Repository.Branch},
		{Name: "CHECKOUT_DIR", Value: tctx.Paths.Checkout},
		{Name: "WORK_DIR", Value: tctx.Paths.WorkDir},
		{Name: "STATE_DIR", Value: tctx.Paths.State},
		{Name: "CONFIG_DIR", Value: tctx.Paths.Config},
		{Name: "ARTIFACT_DIR", Value: tctx.Paths.ArtifactDir},
		{Name: "GIT_EXCLUDES", Value: gitExcludes(tctx)},
		{Name: "GIT_AUTHOR", Value: tctx.Repository.GitHubUser},
	}
	if tctx.IsDocs() {
		env = append(env, corev1.EnvVar{Name: "BRANCH_PREFIX", Value: templatedata.DocsBranchPrefix})
	} else {
		creds.add(CredentialFor(*tctx.Catalog, tctx.Secrets, "CATALOG_GITHUB_TOKEN"), "CATALOG_SSH_KEY")
		env = append(env,
			corev1.EnvVar{Name: "CATALOG_URL", Value: tctx.Catalog.URL},
			corev1.EnvVar{Name: "CATALOG_BRANCH", Value: tctx.Catalog.Branch},
			corev1.EnvVar{Name: "CATALOG_DIR", Value: tctx.Paths.Catalog},
			corev1.EnvVar{Name: "CATALOG_TASK_DOCS", Value: tctx.Paths.CatalogTaskDocs},
			corev1.EnvVar{Name: "TASK_DOCS", Value: tctx.Paths.TaskDocs},
			corev1.EnvVar{Name: "FEATURE_BRANCH", Value: tctx.FeatureBranch},
			corev1.EnvVar{Name: "CONTINUE_SESSION", Value: strconv.FormatBool(tctx.ContinueSession)},
		)
	}
	env = append(env, creds.env...)

	container := corev1.Container{
		Name:            prepContainer,
		Image:           tctx.Images.Prep,
		ImagePullPolicy: corev1.PullPolicy(tctx.Images.PrepPullPolicy),
		Command:         []string{"/bin/sh", "-c", script},
		Env:             env,
		Resources:       resources,
		VolumeMounts:    baseMounts(),
	}
	if m := creds.mount(); m != nil {
		container.VolumeMounts = append(container.VolumeMounts, *m)
	}

	pod := corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Containers:    []corev1.Container{container},
		Volumes:       baseVolumes(tctx.Workspace, tctx.ServiceName, bundle),
	}
	if v := creds.volume(); v != nil {
		pod.Volumes = append(pod.Volumes, *v)
	}

	return b.job(tr, naming.PrepJob(tr.Name), naming.JobTypePrep, pod,
		tctx.Jobs.PrepDeadlineSeconds, tctx.Jobs.PrepBackoffLimit, tctx.Jobs.TTLSecondsAfterDone)
}

// AgentJob builds the agent job. The working directory is passed to the
// startup script as its first argument and is also the container's workingDir.
func (b *Builder) AgentJob(tr *v1alpha1.TaskRun, tctx *templatedata.Context, bundle string) (*batchv1.Job, error) {
	resources, err := resourceRequirements(tctx.Resources.Agent)
	if err != nil {
		return nil, fmt.Errorf("agent resources: %w", err)
	}

	cred := CredentialFor(tctx.Repository, tctx.Secrets, "GITHUB_TOKEN")
	creds := newCredentialSet(tctx.Secrets)
	creds.add(cred, "")

	env := []corev1.EnvVar{
		{Name: "TASKRUN_NAME", Value: tctx.Name},
		{Name: "TASK_ID", Value: strconv.FormatInt(tctx.TaskID, 10)},
		{Name: "SERVICE_NAME", Value: tctx.ServiceName},
		{Name: "AGENT_NAME", Value: tctx.AgentName},
		{Name: "MODEL", Value: tctx.Model},
		{Name: "CONTEXT_VERSION", Value: strconv.FormatInt(int64(tctx.ContextVersion), 10)},
		{Name: "CONTINUE_SESSION", Value: strconv.FormatBool(tctx.ContinueSession)},
		{Name: "WORK_DIR", Value: tctx.Paths.WorkDir},
		{Name: "HOME", Value: path.Join(tctx.Paths.Workspace, ".home")},
		{Name: "ANTHROPIC_API_KEY", ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: tctx.Secrets.APIKeySecretName},
				Key:                  tctx.Secrets.APIKeySecretKey,
			},
		}},
	}
	if cred.SSH {
		env = append(env, corev1.EnvVar{Name: "GIT_SSH_COMMAND", Value: GitSSHCommand(cred.KeyPath)})
	}
	env = append(env, creds.env...)
	env = append(env, sortedEnv(tctx.Telemetry.Env)...)

	container := corev1.Container{
		Name:            agentContainer,
		Image:           tctx.Images.Agent,
		ImagePullPolicy: corev1.PullPolicy(tctx.Images.AgentPullPolicy),
		Command:         []string{"/bin/sh"},
		Args:            []string{path.Join(tctx.Paths.Config, render.FileContainer), tctx.Paths.WorkDir},
		WorkingDir:      tctx.Paths.WorkDir,
		Env:             env,
		Resources:       resources,
		VolumeMounts:    baseMounts(),
	}
	if m := creds.mount(); m != nil {
		container.VolumeMounts = append(container.VolumeMounts, *m)
	}

	pod := corev1.PodSpec{
		RestartPolicy:      corev1.RestartPolicyNever,
		ServiceAccountName: tctx.ServiceAccountName,
		Containers:         []corev1.Container{container},
		Volumes:            baseVolumes(tctx.Workspace, tctx.ServiceName, bundle),
	}
	for _, s := range tctx.Images.PullSecrets {
		pod.ImagePullSecrets = append(pod.ImagePullSecrets, corev1.LocalObjectReference{Name: s})
	}
	if v := creds.volume(); v != nil {
		pod.Volumes = append(pod.Volumes, *v)
	}

	return b.job(tr, naming.AgentJob(tr.Name), naming.JobTypeAgent, pod,
		tctx.Jobs.AgentDeadlineSeconds, tctx.Jobs.AgentBackoffLimit, tctx.Jobs.TTLSecondsAfterDone)
}

func (b *Builder) job(tr *v1alpha1.TaskRun, name, jobType string, pod corev1.PodSpec, deadline int64, backoff int32, ttl *int32) (*batchv1.Job, error) {
	labels := naming.JobLabels(tr, jobType)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: tr.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			ActiveDeadlineSeconds:   &deadline,
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       pod,
			},
		},
	}
	if err := controllerutil.SetControllerReference(tr, job, b.scheme); err != nil {
		return nil, fmt.Errorf("failed to set owner on job %s: %w", name, err)
	}
	return job, nil
}

func baseMounts() []corev1.VolumeMount {
	return []corev1.VolumeMount{
		{Name: workspaceVolume, MountPath: templatedata.WorkspaceMount},
		{Name: configVolume, MountPath: templatedata.ConfigMount, ReadOnly: true},
	}
}

func baseVolumes(ws config.WorkspaceConfig, service, bundle string) []corev1.Volume {
	mode := configMode
	return []corev1.Volume{
		{
			Name: workspaceVolume,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: naming.WorkspaceClaim(service)},
			},
		},
		{
			Name: configVolume,
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: bundle},
					DefaultMode:          &mode,
				},
			},
		},
	}
}

func resourceRequirements(rc config.ResourcesConfig) (corev1.ResourceRequirements, error) {
	requests, err := resourceList(rc.Requests)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	limits, err := resourceList(rc.Limits)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	return corev1.ResourceRequirements{Requests: requests, Limits: limits}, nil
}

func resourceList(rl config.ResourceList) (corev1.ResourceList, error) {
	out := corev1.ResourceList{}
	for name, value := range map[corev1.ResourceName]string{corev1.ResourceCPU: rl.CPU, corev1.ResourceMemory: rl.Memory} {
		if value == "" {
			continue
		}
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s quantity %q: %w", name, value, err)
		}
		out[name] = q
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// gitExcludes lists checkout-relative patterns for files the agent setup
// writes, so they never end up in a commit.
func gitExcludes(tctx *templatedata.Context) string {
	rel := func(p string) string {
		return "/" + strings.TrimPrefix(strings.TrimPrefix(p, tctx.Paths.Checkout), "/")
	}
	wd := rel(tctx.Paths.WorkDir)
	if wd == "/" {
		wd = ""
	}
	patterns := []string{
		rel(tctx.Paths.ArtifactDir) + "/",
		wd + "/.claude/",
		wd + "/.mcp.json",
		wd + "/client-config.json",
		wd + "/CLAUDE.md",
	}
	return strings.Join(patterns, "\n")
}

func sortedEnv(m map[string]string) []corev1.EnvVar {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		out = append(out, corev1.EnvVar{Name: k, Value: m[k]})
	}
	return out
}
