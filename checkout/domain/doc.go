// Package domain define contratos e tipos de domínio do gate de tentativas de
// pagamento e da máquina de estados de confirmação.
//
// Este pacote não depende de net/http, de banco de dados nem do SDK do
// processador. A intenção é permitir testes de unidade puros e desacoplar as
// regras (janela deslizante, tetos por identidade, resultado do pagamento) dos
// detalhes de infraestrutura.
package domain
