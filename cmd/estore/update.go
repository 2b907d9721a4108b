package main

import (
	"github.com/spf13/cobra"

	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/registry"
)

var (
	updateName      string
	updateDocstring string
	updateState     string
	updateSemver    string
	updateRisk      string
	updatePublicAPI bool
	updateActors    []string
	updateDeps      []string
	updateExports   []string
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change entity fields",
	Long: `Merges the given fields into an entity. Only flags that are set are
applied; an empty list flag clears the list. With registry.write_back the
entity's frontmatter block is rewritten in its file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.registry.Update(cmd.Context(), args[0], updatePatch(cmd))
		if err != nil {
			return err
		}
		return a.printer.Entity(e)
	},
}

// updatePatch builds a patch from the flags the user set
func updatePatch(cmd *cobra.Command) registry.Patch {
	var p registry.Patch
	changed := cmd.Flags().Changed
	if changed("name") {
		p.Name = &updateName
	}
	if changed("docstring") {
		p.Docstring = &updateDocstring
	}
	if changed("state") {
		s := models.State(updateState)
		p.State = &s
	}
	if changed("semver") {
		s := models.SemverImpact(updateSemver)
		p.SemverImpact = &s
	}
	if changed("risk") {
		r := models.RiskLevel(updateRisk)
		p.BreakingChangeRisk = &r
	}
	if changed("public-api") {
		p.PublicAPI = &updatePublicAPI
	}
	lists := []struct {
		flag string
		src  *[]string
		dst  **[]string
	}{
		{"actors", &updateActors, &p.Actors},
		{"dependencies", &updateDeps, &p.Dependencies},
		{"exports", &updateExports, &p.Exports},
	}
	for _, l := range lists {
		if changed(l.flag) {
			v := append([]string{}, (*l.src)...)
			*l.dst = &v
		}
	}
	return p
}

func init() {
	f := updateCmd.Flags()
	f.StringVar(&updateName, "name", "", "entity name")
	f.StringVar(&updateDocstring, "docstring", "", "docstring")
	f.StringVar(&updateState, "state", "", "active, deprecated or archived")
	f.StringVar(&updateSemver, "semver", "", "semver impact: major, minor or patch")
	f.StringVar(&updateRisk, "risk", "", "breaking-change risk: low, medium or high")
	f.BoolVar(&updatePublicAPI, "public-api", false, "whether the entity is public API")
	f.StringSliceVar(&updateActors, "actors", nil, "actors that touch the entity")
	f.StringSliceVar(&updateDeps, "dependencies", nil, "dependency ids")
	f.StringSliceVar(&updateExports, "exports", nil, "exported names")
}
