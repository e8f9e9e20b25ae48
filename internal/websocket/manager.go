package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

type Manager struct {
	clients           map[string]*Client
	accountIndex      map[string]map[string]bool
	clientsMutex      sync.RWMutex
	Register          chan *Client
	Unregister        chan *Client
	maxConnPerAccount int
	writeWait         time.Duration
	pongWait          time.Duration
	pingPeriod        time.Duration
}

func NewManager(maxConnPerAccount int, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:           make(map[string]*Client),
		accountIndex:      make(map[string]map[string]bool),
		Register:          make(chan *Client),
		Unregister:        make(chan *Client),
		maxConnPerAccount: maxConnPerAccount,
		writeWait:         writeWait,
		pongWait:          pongWait,
		pingPeriod:        pingPeriod,
	}
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.accountIndex[client.AccountID] == nil {
		m.accountIndex[client.AccountID] = make(map[string]bool)
	}

	if len(m.accountIndex[client.AccountID]) >= m.maxConnPerAccount {
		log.Printf("max connections reached for account %s", client.AccountID)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.accountIndex[client.AccountID][client.ID] = true

	log.Printf("client registered: %s (account: %s)", client.ID, client.AccountID)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.accountIndex[client.AccountID], client.ID)

		if len(m.accountIndex[client.AccountID]) == 0 {
			delete(m.accountIndex, client.AccountID)
		}

		close(client.Send)
		log.Printf("client unregistered: %s", client.ID)
	}
}

func (m *Manager) BroadcastToAccount(accountID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	clientIDs, exists := m.accountIndex[accountID]
	if !exists {
		return nil
	}

	for clientID := range clientIDs {
		client := m.clients[clientID]
		select {
		case client.Send <- messageBytes:
		default:
			log.Printf("client %s send buffer full, dropping message", clientID)
		}
	}

	return nil
}

// NotifyBalance implements the claim service's Notifier. A failed push
// is logged and dropped; the claim itself already committed.
func (m *Manager) NotifyBalance(accountID string, balance, awarded int64) {
	msg, err := NewMessage(TypeBalanceUpdate, &BalanceUpdatePayload{
		Balance:        balance,
		CreditsAwarded: awarded,
	})
	if err != nil {
		log.Printf("failed to build balance update: %v", err)
		return
	}

	if err := m.BroadcastToAccount(accountID, msg); err != nil {
		log.Printf("failed to broadcast balance update: %v", err)
	}
}

func (m *Manager) AccountConnections(accountID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.accountIndex[accountID]; exists {
		return len(clients)
	}
	return 0
}
