package credential

import (
	"github.com/alfredjeanlab/conntree/internal/model"
)

// ApplyHarvest points every harvested node in tree at its record and
// clears the node's own Username, Password and Domain. It returns the
// number of nodes updated.
func ApplyHarvest(tree *model.Tree, h *Harvester) int {
	updated := 0
	for id, rec := range h.ConnectionToCredential {
		n := tree.FindByID(id)
		if n == nil || n.IsRoot() {
			continue
		}
		moveToRecord(n, rec)
		updated++
	}
	return updated
}

// ExtractCredentials walks n and its descendants, moving any embedded
// credential into repo. Nodes with the same domain\username end up
// referencing the same record.
func ExtractCredentials(n *model.Node, repo *Repository) error {
	nodes := append([]*model.Node{n}, n.Descendants()...)
	for _, node := range nodes {
		if node.IsRoot() {
			continue
		}
		p := node.Props
		if p.Username == "" && p.Password == "" && p.Domain == "" {
			continue
		}
		title := node.Name
		if title == "" {
			title = "Imported Credential"
		}
		rec, err := newRecord(title, p.Username, p.Domain, p.Password)
		if err != nil {
			return err
		}
		rec, _ = repo.Add(rec)
		moveToRecord(node, rec)
	}
	return nil
}

func moveToRecord(n *model.Node, rec *Record) {
	n.UpdateProperties(func(p *model.Properties) {
		p.CredentialID = rec.ID
		p.Username = ""
		p.Password = ""
		p.Domain = ""
	})
}
