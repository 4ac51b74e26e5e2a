package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML fixture accepted by `bizchat seed`:
//
//	business:
//	  name: Acme Bakery
//	  type: bakery
//	  size: small
//	personas:
//	  - name: Accountant
//	    instructions: Answer as a small-business accountant.
//	    isolate_rag_context: true
//	    resources:
//	      - title: VAT basics
//	        content: VAT returns are filed quarterly.
//	resources:
//	  - title: Opening hours
//	    content: We open at 7am on weekdays.
type seedFile struct {
	Business  *businessProfile `yaml:"business"`
	Personas  []seedPersona    `yaml:"personas"`
	Resources []seedResource   `yaml:"resources"`
}

type seedPersona struct {
	ID                     string         `yaml:"id"`
	Name                   string         `yaml:"name"`
	Instructions           string         `yaml:"instructions"`
	ExcludeBusinessContext bool           `yaml:"exclude_business_context"`
	IsolateRAGContext      bool           `yaml:"isolate_rag_context"`
	Resources              []seedResource `yaml:"resources"`
}

type seedResource struct {
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
	File    string `yaml:"file"`
}

func loadSeedFile(path string) (seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return seedFile{}, fmt.Errorf("reading seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return seedFile{}, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	for i, p := range f.Personas {
		if p.Name == "" {
			return seedFile{}, fmt.Errorf("persona %d: name is required", i+1)
		}
	}
	return f, nil
}

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load a business profile, personas and resources from YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadSeedFile(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if f.Business != nil {
			if err := putProfile(ctx, client, *f.Business); err != nil {
				return fmt.Errorf("saving business profile: %w", err)
			}
			printSuccess("Business profile %q saved", f.Business.Name)
		}

		ingest := func(r seedResource, personaID string) error {
			req, err := ingestRequest(r.Content, r.File, r.Title, personaID)
			if err != nil {
				return err
			}
			resp, err := client.post(ctx, "/v1/resources", req)
			if err != nil {
				return err
			}
			return decodeJSON(resp, nil)
		}

		queued := 0
		for _, p := range f.Personas {
			id, err := savePersona(ctx, client, p)
			if err != nil {
				return fmt.Errorf("saving persona %s: %w", p.Name, err)
			}
			printSuccess("Persona %s saved (%s)", p.Name, id)
			for _, r := range p.Resources {
				if err := ingest(r, id); err != nil {
					return fmt.Errorf("ingesting %q for persona %s: %w", r.Title, p.Name, err)
				}
				queued++
			}
		}
		for _, r := range f.Resources {
			if err := ingest(r, ""); err != nil {
				return fmt.Errorf("ingesting %q: %w", r.Title, err)
			}
			queued++
		}

		if queued > 0 {
			printSuccess("Queued %d resources for indexing", queued)
		}
		return nil
	},
}
