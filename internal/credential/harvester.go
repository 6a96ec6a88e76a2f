package credential

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alfredjeanlab/conntree/internal/crypto"
	"github.com/alfredjeanlab/conntree/internal/model"
	"github.com/alfredjeanlab/conntree/internal/store"
)

type harvestDoc struct {
	XMLName xml.Name      `xml:"Connections"`
	Attrs   []xml.Attr    `xml:",any,attr"`
	Nodes   []harvestNode `xml:"Node"`
	Payload string        `xml:",chardata"`
}

type harvestNode struct {
	Attrs    []xml.Attr    `xml:",any,attr"`
	Children []harvestNode `xml:"Node"`
}

type nodeList struct {
	Nodes []harvestNode `xml:"Node"`
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Harvester collects the credentials embedded in an XML connections
// document.
type Harvester struct {
	// ConnectionToCredential maps a node ID to the record it was harvested
	// into. Nodes sharing domain\username share one record.
	ConnectionToCredential map[string]*Record

	logger *slog.Logger
}

// NewHarvester creates an empty harvester.
func NewHarvester(logger *slog.Logger) *Harvester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harvester{ConnectionToCredential: map[string]*Record{}, logger: logger}
}

// Harvest scans every Node element of document and returns one record per
// distinct domain\username, in document order. password decrypts the
// stored Password attributes; the document's own cipher settings are used.
// ConnectionToCredential is rebuilt for this document only.
//
// Nodes with different passwords but the same domain\username collapse
// into the first record seen; the later passwords are dropped.
func (h *Harvester) Harvest(document []byte, password string) ([]*Record, error) {
	h.ConnectionToCredential = map[string]*Record{}
	var doc harvestDoc
	if err := xml.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrParseFailed, err)
	}
	provider, err := crypto.ProviderFromSettings(
		attrValue(doc.Attrs, "EncryptionEngine"),
		attrValue(doc.Attrs, "BlockCipherMode"),
		attrValue(doc.Attrs, "KdfIterations"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrParseFailed, err)
	}

	nodes := doc.Nodes
	if full, _ := model.ParseBool(attrValue(doc.Attrs, "FullFileEncryption")); full {
		plain, err := provider.Decrypt(strings.TrimSpace(doc.Payload), password)
		if err != nil {
			return nil, err
		}
		var list nodeList
		if err := xml.Unmarshal([]byte("<nodeList>"+plain+"</nodeList>"), &list); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrParseFailed, err)
		}
		nodes = list.Nodes
	}

	var out []*Record
	var walk func([]harvestNode) error
	walk = func(ns []harvestNode) error {
		for _, n := range ns {
			if err := h.harvestNode(n, provider, password, &out); err != nil {
				return err
			}
			if err := walk(n.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(nodes); err != nil {
		return nil, err
	}
	h.logger.Info("harvested credentials", "records", len(out), "connections", len(h.ConnectionToCredential))
	return out, nil
}

func (h *Harvester) harvestNode(n harvestNode, provider *crypto.Provider, password string, out *[]*Record) error {
	username := attrValue(n.Attrs, "Username")
	domain := attrValue(n.Attrs, "Domain")
	secret := attrValue(n.Attrs, "Password")
	if username == "" && domain == "" && secret == "" {
		return nil
	}
	id := attrValue(n.Attrs, "Id")
	if id == "" {
		h.logger.Warn("skipping node without id", "name", attrValue(n.Attrs, "Name"))
		return nil
	}

	candidate := &Record{Title: username + `\` + domain, Username: username, Domain: domain}
	for _, existing := range *out {
		if existing.Same(candidate) {
			h.ConnectionToCredential[id] = existing
			return nil
		}
	}

	rec, err := newRecord(candidate.Title, username, domain, provider.DecryptOrRaw(secret, password))
	if err != nil {
		return err
	}
	h.ConnectionToCredential[id] = rec
	*out = append(*out, rec)
	return nil
}
