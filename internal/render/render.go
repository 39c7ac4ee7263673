package render

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"taskrun/internal/templatedata"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
	"taskrun/pkg/logging"
)

// Artifact names inside a bundle. They are also the file names under the
// bundle mount.
const (
	FileMemory           = "CLAUDE.md"
	FileSettings         = "settings.json"
	FileMCP              = "mcp.json"
	FileClientConfig     = "client-config.json"
	FileContainer        = "container.sh"
	FileHookSessionStart = "hooks-session-start.sh"
	FileHookStop         = "hooks-stop.sh"

	// DocumentPrefix is prepended to seeded document file names.
	DocumentPrefix = "docs-"
)

// artifacts lists every templated artifact in render order.
var artifacts = []string{
	FileMemory,
	FileSettings,
	FileMCP,
	FileClientConfig,
	FileContainer,
	FileHookSessionStart,
	FileHookStop,
}

//go:embed templates
var templateFS embed.FS

var templateSets = map[v1alpha1.Variant]*template.Template{
	v1alpha1.VariantDocs: mustParse(v1alpha1.VariantDocs),
	v1alpha1.VariantCode: mustParse(v1alpha1.VariantCode),
}

func mustParse(variant v1alpha1.Variant) *template.Template {
	return template.Must(template.New(string(variant)).
		Funcs(funcMap()).
		Option("missingkey=error").
		ParseFS(templateFS, "templates/shared/*.tmpl", "templates/"+string(variant)+"/*.tmpl"))
}

func funcMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	// non-deterministic helpers must never reach an artifact
	for _, name := range []string{"now", "date", "dateInZone", "randAlpha", "randAlphaNum", "randAscii", "randNumeric", "uuidv4", "env", "expandenv"} {
		delete(fm, name)
	}
	fm["shq"] = ShellQuote
	return fm
}

// Bundle is a complete rendered artifact set.
type Bundle struct {
	Files map[string]string

	// Hash is a content hash over every file, used to detect changes.
	Hash string
}

// Keys returns the file names in sorted order.
func (b *Bundle) Keys() []string {
	keys := make([]string, 0, len(b.Files))
	for k := range b.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RenderError reports the artifact that could not be produced.
type RenderError struct {
	Artifact string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Artifact, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Render produces every artifact for ctx. It either returns a complete,
// validated bundle or an error and no bundle.
func Render(ctx *templatedata.Context) (*Bundle, error) {
	set, ok := templateSets[ctx.Variant]
	if !ok {
		return nil, &RenderError{Artifact: "*", Err: fmt.Errorf("no templates for variant %q", ctx.Variant)}
	}

	files := make(map[string]string, len(artifacts)+len(ctx.Documents))
	for _, name := range artifacts {
		var buf bytes.Buffer
		if err := set.ExecuteTemplate(&buf, name+".tmpl", ctx); err != nil {
			return nil, &RenderError{Artifact: name, Err: err}
		}
		content, err := validate(name, buf.Bytes())
		if err != nil {
			return nil, &RenderError{Artifact: name, Err: err}
		}
		files[name] = content
	}

	for _, doc := range ctx.Documents {
		key := DocumentPrefix + doc.Filename
		if _, clash := files[key]; clash {
			return nil, &RenderError{Artifact: key, Err: fmt.Errorf("duplicate artifact name")}
		}
		files[key] = doc.Content
	}

	b := &Bundle{Files: files}
	b.Hash = hashFiles(b)
	logging.Debug("Render", "Rendered %d artifacts for %s/%s (hash %s)", len(files), ctx.Namespace, ctx.Name, b.Hash[:12])
	return b, nil
}

// validate checks structured artifacts and returns their canonical form.
func validate(name string, content []byte) (string, error) {
	switch {
	case strings.HasSuffix(name, ".json"):
		var out bytes.Buffer
		if err := json.Indent(&out, bytes.TrimSpace(content), "", "  "); err != nil {
			return "", fmt.Errorf("invalid JSON: %w", err)
		}
		out.WriteByte('\n')
		return out.String(), nil
	case strings.HasSuffix(name, ".sh"):
		if len(bytes.TrimSpace(content)) == 0 {
			return "", fmt.Errorf("script is empty")
		}
		if !bytes.HasPrefix(content, []byte("#!")) {
			return "", fmt.Errorf("script must start with an interpreter directive")
		}
	default:
		if len(bytes.TrimSpace(content)) == 0 {
			return "", fmt.Errorf("artifact is empty")
		}
	}
	return string(content), nil
}

func hashFiles(b *Bundle) string {
	h := sha256.New()
	for _, k := range b.Keys() {
		fmt.Fprintf(h, "%s\x00%d\x00", k, len(b.Files[k]))
		h.Write([]byte(b.Files[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ShellQuote wraps s in single quotes so a POSIX shell reads it literally.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
