// Package memory keeps every repository in process maps. RunInTx snapshots the
// maps and restores them when fn fails, which gives the same all-or-nothing
// behaviour as a database transaction for a single process.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository"
)

type state struct {
	nextID     int32
	people     map[int32]domain.Person
	roles      map[int32]domain.Role
	events     []domain.RoleEvent
	households map[int32]domain.Household
	groups     map[int32]domain.Group
	sections   map[int32]domain.Section
	invoices   map[int32]domain.Invoice
	notes      []domain.Note
}

func (s *state) clone() *state {
	c := &state{
		nextID:     s.nextID,
		people:     make(map[int32]domain.Person, len(s.people)),
		roles:      make(map[int32]domain.Role, len(s.roles)),
		events:     append([]domain.RoleEvent(nil), s.events...),
		households: make(map[int32]domain.Household, len(s.households)),
		groups:     s.groups,
		sections:   s.sections,
		invoices:   make(map[int32]domain.Invoice, len(s.invoices)),
		notes:      append([]domain.Note(nil), s.notes...),
	}
	for k, v := range s.people {
		v.BulletinOptOutSectionIDs = append([]int32(nil), v.BulletinOptOutSectionIDs...)
		c.people[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for k, v := range s.households {
		v.MemberIDs = append([]int32(nil), v.MemberIDs...)
		c.households[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	return c
}

type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	st   *state

	// FailRoleUpdate lets tests make a role write fail inside a transaction.
	FailRoleUpdate func(role *domain.Role) error
}

func NewStore() *Store {
	return &Store{st: &state{
		people:     map[int32]domain.Person{},
		roles:      map[int32]domain.Role{},
		households: map[int32]domain.Household{},
		groups:     map[int32]domain.Group{},
		sections:   map[int32]domain.Section{},
		invoices:   map[int32]domain.Invoice{},
	}}
}

func (s *Store) id() int32 {
	s.st.nextID++
	return s.st.nextID
}

func (s *Store) People() repository.PersonRepository       { return personRepo{s} }
func (s *Store) Roles() repository.RoleRepository          { return roleRepo{s} }
func (s *Store) Households() repository.HouseholdRepository { return householdRepo{s} }
func (s *Store) Groups() repository.GroupRepository        { return groupRepo{s} }
func (s *Store) Invoices() repository.InvoiceRepository    { return invoiceRepo{s} }
func (s *Store) Notes() repository.NoteRepository          { return noteRepo{s} }

// RunInTx serializes transactions and rolls the maps back when fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	if inTx(ctx) {
		return fn(ctx, s)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true), s); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// AddSection, AddGroup and AddInvoice seed data owned by other systems.
func (s *Store) AddSection(sec domain.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.sections[sec.ID] = sec
}

func (s *Store) AddGroup(g domain.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.groups[g.ID] = g
}

func (s *Store) AddInvoice(inv *domain.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == 0 {
		inv.ID = s.id()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	s.st.invoices[inv.ID] = *inv
}

type personRepo struct{ s *Store }

func (r personRepo) Create(_ context.Context, p *domain.Person) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.ID = r.s.id()
	p.CreatedAt = time.Now()
	r.s.st.people[p.ID] = *p
	return nil
}

func (r personRepo) GetByID(_ context.Context, id int32) (*domain.Person, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.st.people[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "person", ID: id}
	}
	return &p, nil
}

func (r personRepo) ListByIDs(_ context.Context, ids []int32) ([]domain.Person, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	people := []domain.Person{}
	for _, id := range ids {
		if p, ok := r.s.st.people[id]; ok {
			people = append(people, p)
		}
	}
	sort.Slice(people, func(i, j int) bool { return people[i].ID < people[j].ID })
	return people, nil
}

func (r personRepo) FindSimilar(_ context.Context, p *domain.Person) ([]domain.Person, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	people := []domain.Person{}
	if p.Birthday == nil {
		return people, nil
	}
	for _, other := range r.s.st.people {
		if other.ID == p.ID || other.Birthday == nil || !other.Birthday.Equal(*p.Birthday) {
			continue
		}
		if strings.EqualFold(other.FirstName, p.FirstName) && strings.EqualFold(other.LastName, p.LastName) {
			people = append(people, other)
		}
	}
	sort.Slice(people, func(i, j int) bool { return people[i].ID < people[j].ID })
	return people, nil
}

func (r personRepo) Update(_ context.Context, p *domain.Person) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.people[p.ID]; !ok {
		return &domain.NotFoundError{Entity: "person", ID: p.ID}
	}
	r.s.st.people[p.ID] = *p
	return nil
}

func (r personRepo) Delete(_ context.Context, id int32) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for rid, role := range r.s.st.roles {
		if role.PersonID == id {
			delete(r.s.st.roles, rid)
		}
	}
	notes := r.s.st.notes[:0]
	for _, n := range r.s.st.notes {
		if n.PersonID != id {
			notes = append(notes, n)
		}
	}
	r.s.st.notes = notes
	delete(r.s.st.people, id)
	return nil
}

type roleRepo struct{ s *Store }

func (r roleRepo) Create(_ context.Context, role *domain.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.st.groups[role.GroupID]
	if !ok {
		return &domain.NotFoundError{Entity: "group", ID: role.GroupID}
	}
	role.ID = r.s.id()
	role.SectionID = g.SectionID
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	r.s.st.roles[role.ID] = *role
	return nil
}

func (r roleRepo) GetByID(_ context.Context, id int32) (*domain.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	role, ok := r.s.st.roles[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "role", ID: id}
	}
	return &role, nil
}

func (r roleRepo) Update(_ context.Context, role *domain.Role) error {
	if r.s.FailRoleUpdate != nil {
		if err := r.s.FailRoleUpdate(role); err != nil {
			return err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.roles[role.ID]; !ok {
		return &domain.NotFoundError{Entity: "role", ID: role.ID}
	}
	if g, ok := r.s.st.groups[role.GroupID]; ok {
		role.SectionID = g.SectionID
	}
	r.s.st.roles[role.ID] = *role
	return nil
}

func (r roleRepo) Destroy(_ context.Context, id int32) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.st.roles, id)
	return nil
}

func (r roleRepo) filter(keep func(*domain.Role) bool) []domain.Role {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	roles := []domain.Role{}
	for _, role := range r.s.st.roles {
		if keep(&role) {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles
}

func (r roleRepo) ListByPerson(_ context.Context, personID int32, withDeleted bool) ([]domain.Role, error) {
	return r.filter(func(role *domain.Role) bool {
		return role.PersonID == personID && (withDeleted || role.DeletedAt == nil)
	}), nil
}

func (r roleRepo) ListByPeople(_ context.Context, personIDs []int32) ([]domain.Role, error) {
	ids := make(map[int32]bool, len(personIDs))
	for _, id := range personIDs {
		ids[id] = true
	}
	return r.filter(func(role *domain.Role) bool {
		return ids[role.PersonID] && role.DeletedAt == nil
	}), nil
}

func (r roleRepo) ListByGroup(_ context.Context, groupID int32) ([]domain.Role, error) {
	return r.filter(func(role *domain.Role) bool {
		return role.GroupID == groupID && role.DeletedAt == nil
	}), nil
}

func (r roleRepo) ListApplicationsCreatedBefore(_ context.Context, cutoff time.Time) ([]domain.Role, error) {
	return r.filter(func(role *domain.Role) bool {
		return role.IsApplication() && role.DeletedAt == nil && role.CreatedAt.Before(cutoff)
	}), nil
}

func (r roleRepo) RecordEvent(_ context.Context, e *domain.RoleEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e.ID = r.s.id()
	e.CreatedAt = time.Now()
	r.s.st.events = append(r.s.st.events, *e)
	return nil
}

func (r roleRepo) ListEvents(_ context.Context, roleID int32) ([]domain.RoleEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var events []domain.RoleEvent
	for _, e := range r.s.st.events {
		if e.RoleID == roleID {
			events = append(events, e)
		}
	}
	return events, nil
}

func (r roleRepo) ListEventsByCascade(_ context.Context, rootRoleID int32, t domain.RoleEventType) ([]domain.RoleEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var events []domain.RoleEvent
	for _, e := range r.s.st.events {
		if e.CascadeRootID == rootRoleID && e.Type == t {
			events = append(events, e)
		}
	}
	return events, nil
}

type householdRepo struct{ s *Store }

func (r householdRepo) Create(_ context.Context, h *domain.Household) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h.ID = r.s.id()
	if h.Key == "" {
		h.Key = uuid.NewString()
	}
	h.CreatedAt = time.Now()
	r.s.st.households[h.ID] = *h
	r.syncMembers(h)
	return nil
}

func (r householdRepo) GetByID(_ context.Context, id int32) (*domain.Household, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	h, ok := r.s.st.households[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "household", ID: id}
	}
	h.MemberIDs = append([]int32(nil), h.MemberIDs...)
	return &h, nil
}

func (r householdRepo) Update(_ context.Context, h *domain.Household) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.households[h.ID]; !ok {
		return &domain.NotFoundError{Entity: "household", ID: h.ID}
	}
	r.s.st.households[h.ID] = *h
	r.syncMembers(h)
	return nil
}

func (r householdRepo) syncMembers(h *domain.Household) {
	for id, p := range r.s.st.people {
		member := h.Includes(id)
		switch {
		case member:
			hid := h.ID
			p.HouseholdID = &hid
			p.FamilyMainPerson = h.MainPersonID != nil && *h.MainPersonID == id
		case p.HouseholdID != nil && *p.HouseholdID == h.ID:
			p.HouseholdID = nil
			p.FamilyMainPerson = false
		default:
			continue
		}
		r.s.st.people[id] = p
	}
}

type groupRepo struct{ s *Store }

func (r groupRepo) GetByID(_ context.Context, id int32) (*domain.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	g, ok := r.s.st.groups[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "group", ID: id}
	}
	return &g, nil
}

func (r groupRepo) FindBySectionAndType(_ context.Context, sectionID int32, t domain.GroupType) (*domain.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var found *domain.Group
	for _, g := range r.s.st.groups {
		if g.SectionID == sectionID && g.Type == t && (found == nil || g.ID < found.ID) {
			g := g
			found = &g
		}
	}
	if found == nil {
		return nil, &domain.NotFoundError{Entity: "group of section", ID: sectionID}
	}
	return found, nil
}

func (r groupRepo) ListByType(_ context.Context, t domain.GroupType) ([]domain.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var groups []domain.Group
	for _, g := range r.s.st.groups {
		if g.Type == t {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

func (r groupRepo) GetSection(_ context.Context, id int32) (*domain.Section, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sec, ok := r.s.st.sections[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "section", ID: id}
	}
	return &sec, nil
}

type invoiceRepo struct{ s *Store }

func (r invoiceRepo) Create(_ context.Context, inv *domain.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv.ID = r.s.id()
	inv.CreatedAt = time.Now()
	r.s.st.invoices[inv.ID] = *inv
	return nil
}

func (r invoiceRepo) GetByID(_ context.Context, id int32) (*domain.Invoice, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	inv, ok := r.s.st.invoices[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "invoice", ID: id}
	}
	return &inv, nil
}

func (r invoiceRepo) list(keep func(*domain.Invoice) bool) []domain.Invoice {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	invoices := []domain.Invoice{}
	for _, inv := range r.s.st.invoices {
		if keep(&inv) {
			invoices = append(invoices, inv)
		}
	}
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].ID < invoices[j].ID })
	return invoices
}

func (r invoiceRepo) ListByRole(_ context.Context, roleID int32) ([]domain.Invoice, error) {
	return r.list(func(inv *domain.Invoice) bool {
		return inv.LinkRoleID != nil && *inv.LinkRoleID == roleID
	}), nil
}

func (r invoiceRepo) ListPayedByYear(_ context.Context, year int) ([]domain.Invoice, error) {
	return r.list(func(inv *domain.Invoice) bool {
		return inv.Year == year && inv.State == domain.InvoiceStatePayed
	}), nil
}

func (r invoiceRepo) Update(_ context.Context, inv *domain.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.invoices[inv.ID]; !ok {
		return &domain.NotFoundError{Entity: "invoice", ID: inv.ID}
	}
	r.s.st.invoices[inv.ID] = *inv
	return nil
}

type noteRepo struct{ s *Store }

func (r noteRepo) Create(_ context.Context, n *domain.Note) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n.ID = r.s.id()
	n.CreatedAt = time.Now()
	r.s.st.notes = append(r.s.st.notes, *n)
	return nil
}

func (r noteRepo) ListByPerson(_ context.Context, personID int32) ([]domain.Note, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var notes []domain.Note
	for _, n := range r.s.st.notes {
		if n.PersonID == personID {
			notes = append(notes, n)
		}
	}
	return notes, nil
}
