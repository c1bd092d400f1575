package domain

import "strconv"

// Package é um pacote vendido no checkout.
type Package struct {
	PriceKey    string
	AmountCents int64
	Diamonds    int
}

func (p Package) ProductName() string {
	return strconv.Itoa(p.Diamonds) + " Diamantes Free Fire"
}

type Catalog []Package

func DefaultCatalog() Catalog {
	return Catalog{
		{PriceKey: "1", AmountCents: 100, Diamonds: 2800},
		{PriceKey: "9", AmountCents: 900, Diamonds: 5600},
		{PriceKey: "15", AmountCents: 1590, Diamonds: 11200},
		{PriceKey: "19", AmountCents: 1900, Diamonds: 22400},
	}
}

// ByAmount procura o pacote pelo valor em centavos.
func (c Catalog) ByAmount(amountCents int64) (Package, bool) {
	for _, p := range c {
		if p.AmountCents == amountCents {
			return p, true
		}
	}
	return Package{}, false
}

func (c Catalog) ByKey(key string) (Package, bool) {
	for _, p := range c {
		if p.PriceKey == key {
			return p, true
		}
	}
	return Package{}, false
}
