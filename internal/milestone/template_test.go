package milestone

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lherron/fieldsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		milestones []domain.Milestone
		wantErr    bool
	}{
		{
			name: "valid",
			milestones: []domain.Milestone{
				{Name: "Receive", Weight: 30, Kind: domain.MilestoneKindDiscrete},
				{Name: "Install", Weight: 70, Kind: domain.MilestoneKindPartial},
			},
		},
		{
			name: "zero weight marker allowed",
			milestones: []domain.Milestone{
				{Name: "Install", Weight: 100, Kind: domain.MilestoneKindPartial},
				{Name: "Rejected", Weight: 0, Kind: domain.MilestoneKindDiscrete},
			},
		},
		{
			name: "sum over 100",
			milestones: []domain.Milestone{
				{Name: "Receive", Weight: 40, Kind: domain.MilestoneKindDiscrete},
				{Name: "Install", Weight: 70, Kind: domain.MilestoneKindPartial},
			},
			wantErr: true,
		},
		{
			name: "duplicate name",
			milestones: []domain.Milestone{
				{Name: "Install", Weight: 50, Kind: domain.MilestoneKindDiscrete},
				{Name: "Install", Weight: 50, Kind: domain.MilestoneKindPartial},
			},
			wantErr: true,
		},
		{
			name: "unknown kind",
			milestones: []domain.Milestone{
				{Name: "Install", Weight: 100, Kind: "hybrid"},
			},
			wantErr: true,
		},
		{
			name: "negative weight",
			milestones: []domain.Milestone{
				{Name: "Receive", Weight: -10, Kind: domain.MilestoneKindDiscrete},
				{Name: "Install", Weight: 110, Kind: domain.MilestoneKindPartial},
			},
			wantErr: true,
		},
		{
			name:    "empty",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(domain.Template{Name: "t", Milestones: tt.milestones})
			if tt.wantErr {
				assert.True(t, domain.IsTemplateInvalid(err), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseTemplates(t *testing.T) {
	doc := []byte(`
templates:
  - name: hanger
    milestones:
      - {name: Receive, weight: 20, kind: discrete}
      - {name: Install, weight: 80, kind: partial}
`)
	templates, err := ParseTemplates(doc)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "hanger", templates[0].Name)
	assert.Equal(t, domain.MilestoneKindPartial, templates[0].Milestones[1].Kind)
}

func TestParseTemplates_RejectsBadWeights(t *testing.T) {
	doc := []byte(`
templates:
  - name: hanger
    milestones:
      - {name: Receive, weight: 20, kind: discrete}
      - {name: Install, weight: 70, kind: partial}
`)
	_, err := ParseTemplates(doc)
	var tie *domain.TemplateInvalidError
	require.ErrorAs(t, err, &tie)
	assert.Equal(t, "hanger", tie.Template)
	assert.Equal(t, 90, tie.Sum)
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - name: spool
    milestones:
      - {name: Install, weight: 100, kind: partial}
  - name: hanger
    milestones:
      - {name: Install, weight: 100, kind: discrete}
`), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	spool, err := reg.Get("spool")
	require.NoError(t, err)
	assert.Len(t, spool.Milestones, 1, "file templates replace built-ins with the same name")

	_, err = reg.Get("hanger")
	assert.NoError(t, err)
	_, err = reg.Get("valve")
	assert.NoError(t, err)
	_, err = reg.Get("missing")
	assert.Error(t, err)
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNewRegistry_Invalid(t *testing.T) {
	_, err := NewRegistry(domain.Template{Name: "bad", Milestones: []domain.Milestone{{Name: "A", Weight: 10, Kind: domain.MilestoneKindDiscrete}}})
	assert.True(t, domain.IsTemplateInvalid(err))
}
