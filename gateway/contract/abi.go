package contract

// MarketplaceABI はマーケットプレイス台帳コントラクトのABI
const MarketplaceABI = `[
  {"inputs":[{"internalType":"uint256","name":"_feePercent","type":"uint256"}],"stateMutability":"nonpayable","type":"constructor"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"uint256","name":"itemId","type":"uint256"},
    {"indexed":true,"internalType":"address","name":"nft","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"tokenId","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"price","type":"uint256"},
    {"indexed":true,"internalType":"address","name":"seller","type":"address"},
    {"indexed":true,"internalType":"address","name":"buyer","type":"address"}
  ],"name":"Bought","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"uint256","name":"itemId","type":"uint256"},
    {"indexed":true,"internalType":"address","name":"nft","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"tokenId","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"price","type":"uint256"},
    {"indexed":true,"internalType":"address","name":"seller","type":"address"}
  ],"name":"Offered","type":"event"},
  {"inputs":[],"name":"feeAccount","outputs":[{"internalType":"address payable","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"feePercent","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"_itemId","type":"uint256"}],"name":"getTotalPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"itemCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"","type":"uint256"}],"name":"items","outputs":[
    {"internalType":"uint256","name":"itemId","type":"uint256"},
    {"internalType":"contract IERC721","name":"nft","type":"address"},
    {"internalType":"uint256","name":"tokenId","type":"uint256"},
    {"internalType":"uint256","name":"price","type":"uint256"},
    {"internalType":"address payable","name":"seller","type":"address"},
    {"internalType":"bool","name":"sold","type":"bool"}
  ],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"contract IERC721","name":"_nft","type":"address"},
    {"internalType":"uint256","name":"_tokenId","type":"uint256"},
    {"internalType":"uint256","name":"_price","type":"uint256"}
  ],"name":"makeItem","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"_itemId","type":"uint256"}],"name":"purchaseItem","outputs":[],"stateMutability":"payable","type":"function"}
]`

// NFTABI はトークン発行コントラクト（ERC721 + mint/tokenCount）のABI
const NFTABI = `[
  {"inputs":[],"stateMutability":"nonpayable","type":"constructor"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"address","name":"owner","type":"address"},
    {"indexed":true,"internalType":"address","name":"operator","type":"address"},
    {"indexed":false,"internalType":"bool","name":"approved","type":"bool"}
  ],"name":"ApprovalForAll","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"address","name":"from","type":"address"},
    {"indexed":true,"internalType":"address","name":"to","type":"address"},
    {"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"}
  ],"name":"Transfer","type":"event"},
  {"inputs":[{"internalType":"address","name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"owner","type":"address"},
    {"internalType":"address","name":"operator","type":"address"}
  ],"name":"isApprovedForAll","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"string","name":"_tokenURI","type":"string"}],"name":"mint","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"name","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"operator","type":"address"},
    {"internalType":"bool","name":"approved","type":"bool"}
  ],"name":"setApprovalForAll","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"tokenCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"tokenURI","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`
