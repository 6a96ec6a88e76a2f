// Package xmlfile stores the connection tree as an XML document on disk,
// with per-field or full-document encryption and timestamped backups.
package xmlfile

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/conntree/internal/crypto"
	"github.com/alfredjeanlab/conntree/internal/model"
	"github.com/alfredjeanlab/conntree/internal/schema"
	"github.com/alfredjeanlab/conntree/internal/store"
)

// DocumentVersion is the ConfVersion written to, and the newest accepted
// from, XML documents.
var DocumentVersion = schema.MustParse("2.8")

const (
	attrName               = "Name"
	attrConfVersion        = "ConfVersion"
	attrProtected          = "Protected"
	attrEncryptionEngine   = "EncryptionEngine"
	attrBlockCipherMode    = "BlockCipherMode"
	attrKdfIterations      = "KdfIterations"
	attrFullFileEncryption = "FullFileEncryption"
	attrAutoLock           = "AutoLockOnMinimize"
	attrExport             = "Export"

	attrID                = "Id"
	attrType              = "Type"
	attrExpanded          = "Expanded"
	attrFavorite          = "Favorite"
	attrAutoSort          = "AutoSort"
	attrContainerPassword = "ContainerPassword"
	attrLinked            = "LinkedConnectionId"

	inheritPrefix = "Inherit"
)

type document struct {
	XMLName xml.Name      `xml:"Connections"`
	Attrs   []xml.Attr    `xml:",any,attr"`
	Nodes   []nodeElement `xml:"Node"`
	Payload string        `xml:",chardata"`
}

type nodeElement struct {
	XMLName  xml.Name      `xml:"Node"`
	Attrs    []xml.Attr    `xml:",any,attr"`
	Children []nodeElement `xml:"Node"`
}

// nodeList is used to decode the plaintext of a fully encrypted document.
type nodeList struct {
	Nodes []nodeElement `xml:"Node"`
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func attrMap(attrs []xml.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Name.Local] = a.Value
	}
	return m
}

// Serializer turns a connections root into an XML document.
type Serializer struct {
	provider *crypto.Provider
	fullFile bool
}

// NewSerializer creates a serializer. With fullFile set, the node elements
// are additionally encrypted as one blob inside the root element.
func NewSerializer(p *crypto.Provider, fullFile bool) *Serializer {
	return &Serializer{provider: p, fullFile: fullFile}
}

// Serialize encodes root and its descendants. Of the root itself only the
// document attributes are written; its property values are not stored and
// load as defaults.
func (s *Serializer) Serialize(root *model.Node) ([]byte, error) {
	if !root.IsRoot() {
		return nil, model.ErrNotRoot
	}
	password := crypto.DefaultPassword
	if root.Protected() {
		password = root.Password()
	}
	marker, err := crypto.NewMarker(s.provider, password, root.Protected())
	if err != nil {
		return nil, fmt.Errorf("encrypt protected marker: %w", err)
	}

	doc := document{
		Attrs: []xml.Attr{
			attr(attrName, root.Name),
			attr(attrExport, model.FormatBool(root.Export())),
			attr(attrEncryptionEngine, string(s.provider.Engine())),
			attr(attrBlockCipherMode, string(s.provider.Mode())),
			attr(attrKdfIterations, strconv.Itoa(s.provider.Iterations())),
			attr(attrFullFileEncryption, model.FormatBool(s.fullFile)),
			attr(attrProtected, marker),
			attr(attrConfVersion, DocumentVersion.String()),
		},
	}
	if root.AutoLockOnMinimize() {
		doc.Attrs = append(doc.Attrs, attr(attrAutoLock, model.FormatBool(true)))
	}

	nodes := make([]nodeElement, 0, root.ChildCount())
	for _, child := range root.Children() {
		el, err := s.element(child, password)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, el)
	}

	if s.fullFile {
		inner, err := xml.Marshal(nodeList{Nodes: nodes})
		if err != nil {
			return nil, fmt.Errorf("marshal nodes: %w", err)
		}
		// Strip the <nodeList> wrapper; only the Node elements are sealed.
		inner = bytes.TrimSuffix(bytes.TrimPrefix(inner, []byte("<nodeList>")), []byte("</nodeList>"))
		blob, err := s.provider.Encrypt(string(inner), password)
		if err != nil {
			return nil, fmt.Errorf("encrypt document: %w", err)
		}
		doc.Payload = blob
	} else {
		doc.Nodes = nodes
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func (s *Serializer) element(n *model.Node, password string) (nodeElement, error) {
	el := nodeElement{
		Attrs: []xml.Attr{
			attr(attrName, n.Name),
			attr(attrType, n.Kind().String()),
			attr(attrID, n.ID),
			attr(attrFavorite, model.FormatBool(n.Favorite)),
		},
	}
	if n.LinkedID != "" {
		el.Attrs = append(el.Attrs, attr(attrLinked, n.LinkedID))
	}
	if n.IsContainer() {
		el.Attrs = append(el.Attrs,
			attr(attrExpanded, model.FormatBool(n.Expanded())),
			attr(attrAutoSort, model.FormatBool(n.AutoSort())),
			attr(attrContainerPassword, model.FormatBool(n.PasswordGate())),
		)
	}

	props := model.AllProperties()
	for _, p := range props {
		v := p.Format(&n.Props)
		if p.Sensitive {
			enc, err := s.provider.Encrypt(v, password)
			if err != nil {
				return nodeElement{}, fmt.Errorf("encrypt %s of %s: %w", p.Name, n.ID, err)
			}
			v = enc
		}
		el.Attrs = append(el.Attrs, attr(p.Name, v))
	}
	for _, p := range props {
		if p.Inheritable() {
			el.Attrs = append(el.Attrs, attr(inheritPrefix+p.Name, model.FormatBool(p.Inherited(&n.Inherit))))
		}
	}

	for _, child := range n.Children() {
		c, err := s.element(child, password)
		if err != nil {
			return nodeElement{}, err
		}
		el.Children = append(el.Children, c)
	}
	return el, nil
}

// Deserializer builds a connections root from an XML document.
type Deserializer struct {
	auth   *crypto.Authenticator
	logger *slog.Logger
}

// NewDeserializer creates a deserializer. auth supplies the password
// prompt; its provider is replaced by one matching the document.
func NewDeserializer(auth *crypto.Authenticator, logger *slog.Logger) *Deserializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deserializer{auth: auth, logger: logger}
}

func parseFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrParseFailed, fmt.Sprintf(format, args...))
}

// Deserialize decodes data. Malformed markup fails with
// store.ErrParseFailed; a newer ConfVersion with store.ErrVersionUnsupported.
func (d *Deserializer) Deserialize(ctx context.Context, data []byte) (*model.Node, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, parseFailed("%v", err)
	}
	attrs := attrMap(doc.Attrs)

	version := DocumentVersion
	if s, ok := attrs[attrConfVersion]; ok {
		v, err := schema.ParseVersion(s)
		if err != nil {
			return nil, parseFailed("%v", err)
		}
		version = v
	}
	if version.Compare(DocumentVersion) > 0 {
		return nil, fmt.Errorf("%w: document version %s, newest known %s", store.ErrVersionUnsupported, version, DocumentVersion)
	}

	provider, err := providerFor(attrs)
	if err != nil {
		return nil, parseFailed("%v", err)
	}
	authn, err := d.auth.WithProvider(provider).Authenticate(ctx, attrs[attrProtected])
	if err != nil {
		return nil, err
	}

	nodes := doc.Nodes
	fullFile, err := model.ParseBool(attrs[attrFullFileEncryption])
	if err != nil {
		return nil, parseFailed("%s: %v", attrFullFileEncryption, err)
	}
	if fullFile {
		plain, err := provider.Decrypt(strings.TrimSpace(doc.Payload), authn.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrParseFailed, err)
		}
		var list nodeList
		if err := xml.Unmarshal([]byte("<nodeList>"+plain+"</nodeList>"), &list); err != nil {
			return nil, parseFailed("decrypted content: %v", err)
		}
		nodes = list.Nodes
	}

	name := attrs[attrName]
	if name == "" {
		name = "Connections"
	}
	root := model.NewRoot(name, model.RootConnections)
	root.SetVersion(version.String())
	if authn.Protected {
		root.SetPassword(authn.Password)
	}
	if v, err := model.ParseBool(attrs[attrExport]); err == nil {
		root.SetExport(v)
	}
	if v, err := model.ParseBool(attrs[attrAutoLock]); err == nil {
		root.SetAutoLockOnMinimize(v)
	}

	b := builder{provider: provider, password: authn.Password, logger: d.logger}
	for _, el := range nodes {
		n, err := b.node(el)
		if err != nil {
			return nil, err
		}
		if err := root.AddChild(n); err != nil {
			return nil, parseFailed("%v", err)
		}
	}
	return root, nil
}

func providerFor(attrs map[string]string) (*crypto.Provider, error) {
	return crypto.ProviderFromSettings(attrs[attrEncryptionEngine], attrs[attrBlockCipherMode], attrs[attrKdfIterations])
}

type builder struct {
	provider *crypto.Provider
	password string
	logger   *slog.Logger
}

func (b builder) node(el nodeElement) (*model.Node, error) {
	attrs := attrMap(el.Attrs)
	kind := model.Kind(attrs[attrType])
	if kind != model.KindConnection && kind != model.KindContainer {
		return nil, parseFailed("node %q has unknown type %q", attrs[attrName], kind)
	}
	n, err := model.NewNode(kind, attrs[attrID], attrs[attrName])
	if err != nil {
		return nil, parseFailed("%v", err)
	}
	n.LinkedID = attrs[attrLinked]
	if n.Favorite, err = model.ParseBool(attrs[attrFavorite]); err != nil {
		return nil, parseFailed("node %s %s: %v", n.ID, attrFavorite, err)
	}

	for _, p := range model.AllProperties() {
		if v, ok := attrs[p.Name]; ok {
			if p.Sensitive {
				v = b.decrypt(n.ID, p.Name, v)
			}
			if err := p.Parse(&n.Props, v); err != nil {
				return nil, parseFailed("node %s: %v", n.ID, err)
			}
		}
		if !p.Inheritable() {
			continue
		}
		if v, ok := attrs[inheritPrefix+p.Name]; ok {
			flag, err := model.ParseBool(v)
			if err != nil {
				return nil, parseFailed("node %s %s%s: %v", n.ID, inheritPrefix, p.Name, err)
			}
			p.SetInherited(&n.Inherit, flag)
		}
	}

	if !n.IsContainer() {
		if len(el.Children) > 0 {
			return nil, parseFailed("connection %s has child nodes", n.ID)
		}
		return n, nil
	}
	for _, c := range el.Children {
		child, err := b.node(c)
		if err != nil {
			return nil, err
		}
		if err := n.AddChild(child); err != nil {
			return nil, parseFailed("%v", err)
		}
	}
	expanded, _ := model.ParseBool(attrs[attrExpanded])
	autoSort, _ := model.ParseBool(attrs[attrAutoSort])
	gate, _ := model.ParseBool(attrs[attrContainerPassword])
	n.SetExpanded(expanded)
	n.RestoreAutoSort(autoSort)
	n.SetPasswordGate(gate)
	return n, nil
}

// decrypt opens a sensitive attribute; values that were never encrypted
// are kept as they are.
func (b builder) decrypt(id, name, v string) string {
	plain, err := b.provider.Decrypt(v, b.password)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			b.logger.Debug("keeping undecryptable value as cleartext", "node", id, "property", name)
		}
		return v
	}
	return plain
}
