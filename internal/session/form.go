package session

// PhoneForm is the server-side state of a two-step phone form: the number
// entered and whether a code went out to it. Keeping it here keeps phone
// numbers out of URLs.
type PhoneForm struct {
	Phone string
	Sent  bool
}

// SetPhoneForm records the state of the named form. The zero PhoneForm forgets it.
func (s *Session) SetPhoneForm(name string, f PhoneForm) {
	s.update(func() {
		if f == (PhoneForm{}) {
			delete(s.forms, name)
			return
		}
		if s.forms == nil {
			s.forms = make(map[string]PhoneForm)
		}
		s.forms[name] = f
	})
}

// PhoneForm returns the state of the named form, or the zero value.
func (s *Session) PhoneForm(name string) PhoneForm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forms[name]
}

// Anonymous returns an initialized, signed-out Session that belongs to no
// visitor and ignores every write. It serves read-only pages to visitors
// without a session so they do not occupy the registry.
func Anonymous() *Session {
	s := New(Options{})
	s.initialized = true
	s.closed = true
	s.restore.Do(func() {})
	return s
}
