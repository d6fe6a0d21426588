package assoc

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/models"
)

type fakeDirectory struct {
	contacts   []models.Contact
	businesses []models.Business

	addressQueries [][]string
	domainQueries  [][]string
}

func (d *fakeDirectory) FindContactsByAddress(_ context.Context, _ string, addresses []string) ([]models.Contact, error) {
	d.addressQueries = append(d.addressQueries, addresses)
	return d.contacts, nil
}

func (d *fakeDirectory) FindBusinessesByAddressOrDomain(_ context.Context, _ string, _, domains []string) ([]models.Business, error) {
	d.domainQueries = append(d.domainQueries, domains)
	return d.businesses, nil
}

type fakeMessages struct {
	associations map[string]models.AssociationResult
}

func (m *fakeMessages) SetAssociation(_ context.Context, messageID string, res models.AssociationResult) error {
	if m.associations == nil {
		m.associations = map[string]models.AssociationResult{}
	}
	m.associations[messageID] = res
	return nil
}

func testService(dir *fakeDirectory, messages *fakeMessages) *Service {
	log := zerolog.Nop()
	return New(dir, messages, &log)
}

func testMessage() *models.NormalizedMessage {
	return &models.NormalizedMessage{
		AccountID:  "acc-1",
		ExternalID: "42",
		From:       "jane@acme.example",
		To:         []string{"sales@crm.example"},
	}
}

func TestAssociateExact(t *testing.T) {
	dir := &fakeDirectory{
		contacts: []models.Contact{
			{ID: "c-1", BusinessID: "b-1", Emails: []string{"Jane@Acme.Example"}},
		},
		// Exact contact evidence wins even with businesses in the directory.
		businesses: []models.Business{{ID: "b-9"}},
	}

	out, err := testService(dir, &fakeMessages{}).Associate(context.Background(), testMessage())
	if err != nil {
		t.Fatal(err)
	}
	if out.Confidence != models.AssocExact {
		t.Error(models.AssocExact, "!=", out.Confidence)
	}
	if out.ContactID != "c-1" || out.BusinessID != "b-1" {
		t.Error("c-1/b-1", "!=", out.ContactID+"/"+out.BusinessID)
	}
	if out.Manual {
		t.Error("automatic association must not be marked manual")
	}
}

func TestAssociateSenderBeatsRecipient(t *testing.T) {
	dir := &fakeDirectory{
		contacts: []models.Contact{
			{ID: "c-recipient", BusinessID: "b-2", Emails: []string{"sales@crm.example"}},
			{ID: "c-sender", BusinessID: "b-1", Emails: []string{"jane@acme.example"}},
		},
	}

	out, err := testService(dir, &fakeMessages{}).Associate(context.Background(), testMessage())
	if err != nil {
		t.Fatal(err)
	}
	if out.ContactID != "c-sender" {
		t.Error("c-sender", "!=", out.ContactID)
	}
}

func TestAssociateDomain(t *testing.T) {
	dir := &fakeDirectory{
		businesses: []models.Business{{ID: "b-1", Domain: "acme.example"}},
	}

	out, err := testService(dir, &fakeMessages{}).Associate(context.Background(), testMessage())
	if err != nil {
		t.Fatal(err)
	}
	if out.Confidence != models.AssocDomain {
		t.Error(models.AssocDomain, "!=", out.Confidence)
	}
	if out.BusinessID != "b-1" {
		t.Error("b-1", "!=", out.BusinessID)
	}
	if out.ContactID != "" {
		t.Error("", "!=", out.ContactID)
	}
}

func TestAssociateAmbiguous(t *testing.T) {
	dir := &fakeDirectory{
		businesses: []models.Business{
			{ID: "b-old", LastActiveAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "b-new", LastActiveAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		},
	}

	out, err := testService(dir, &fakeMessages{}).Associate(context.Background(), testMessage())
	if err != nil {
		t.Fatal(err)
	}
	if out.Confidence != models.AssocAmbiguous {
		t.Error(models.AssocAmbiguous, "!=", out.Confidence)
	}
	if out.BusinessID != "b-new" {
		t.Error("b-new", "!=", out.BusinessID)
	}
}

func TestAssociateFoldsSubaddress(t *testing.T) {
	dir := &fakeDirectory{
		contacts: []models.Contact{
			{ID: "c-1", BusinessID: "b-1", Emails: []string{"jane@acme.example"}},
		},
	}
	msg := testMessage()
	msg.From = "jane+crm@acme.example"

	out, err := testService(dir, &fakeMessages{}).Associate(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if out.ContactID != "c-1" {
		t.Error("c-1", "!=", out.ContactID)
	}
}

func TestAssociateNone(t *testing.T) {
	out, err := testService(&fakeDirectory{}, &fakeMessages{}).Associate(context.Background(), testMessage())
	if err != nil {
		t.Fatal(err)
	}
	if out.Confidence != models.AssocNone {
		t.Error(models.AssocNone, "!=", out.Confidence)
	}
	if out.BusinessID != "" || out.ContactID != "" {
		t.Error("no entities expected:", out)
	}
}

func TestAssociateNoValidAddresses(t *testing.T) {
	msg := &models.NormalizedMessage{AccountID: "acc-1", ExternalID: "42", From: "not-an-address"}
	dir := &fakeDirectory{}

	out, err := testService(dir, &fakeMessages{}).Associate(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if out.Confidence != models.AssocNone {
		t.Error(models.AssocNone, "!=", out.Confidence)
	}
	if len(dir.addressQueries) != 0 {
		t.Error("directory must not be queried without addresses")
	}
}

func TestManuallyAssociate(t *testing.T) {
	messages := &fakeMessages{}

	if err := testService(&fakeDirectory{}, messages).ManuallyAssociate(context.Background(), "msg-1", "b-1", "c-1"); err != nil {
		t.Fatal(err)
	}
	stored := messages.associations["msg-1"]
	if !stored.Manual {
		t.Error("manual association must be marked manual")
	}
	if stored.Confidence != models.AssocExact {
		t.Error(models.AssocExact, "!=", stored.Confidence)
	}
	if stored.BusinessID != "b-1" || stored.ContactID != "c-1" {
		t.Error("b-1/c-1", "!=", stored.BusinessID+"/"+stored.ContactID)
	}
}
